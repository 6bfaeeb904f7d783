package uicc

import (
	"slices"
	"sync"
	"time"
)

// ChangeReason names the event that led to a notification.
type ChangeReason string

// Change reasons.
const (
	ReasonRadioUnavailable ChangeReason = "radio_unavailable"
	ReasonCardStatus       ChangeReason = "card_status"
	ReasonSlotStatus       ChangeReason = "slot_status"
	ReasonEidReady         ChangeReason = "eid_ready"
)

// ChangeEvent is delivered to subscribers after the card/slot model changed.
// It carries the snapshot taken right after the change.
type ChangeEvent struct {
	Reason             ChangeReason
	Cards              []CardInfo
	DefaultEuiccCardID int
	At                 time.Time
}

// Handler receives change notifications registered through RegisterForChanges.
type Handler interface {
	HandleChange(code int, userData any)
}

// Subscription is a live registration with a Notifier.
//
// Events are delivered on a goroutine owned by the subscription. If several
// changes land before the callback runs, only the newest is delivered.
type Subscription struct {
	id       uint64
	notifier *Notifier
	callback func(ChangeEvent)

	mu      sync.Mutex
	pending *ChangeEvent
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Cancel stops delivery. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.notifier.remove(s.id)
		close(s.done)
	})
}

func (s *Subscription) offer(ev ChangeEvent) {
	s.mu.Lock()
	s.pending = &ev
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
		// Already scheduled; the pending event was replaced above.
	}
}

func (s *Subscription) take() (ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ChangeEvent{}, false
	}
	ev := *s.pending
	s.pending = nil
	return ev, true
}

func (s *Subscription) loop(logger Logger) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			ev, ok := s.take()
			if !ok {
				continue
			}
			s.deliver(ev, logger)
		}
	}
}

func (s *Subscription) deliver(ev ChangeEvent, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change subscriber panic recovered", "subscription", s.id, "panic", r)
		}
	}()
	s.callback(ev)
}

// Notifier fans change events out to subscribers.
//
// Subscribing twice is allowed and yields two deliveries per change.
// All methods are thread-safe.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	wg     sync.WaitGroup
	logger Logger
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs:   make(map[uint64]*Subscription),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report subscriber panics.
func (n *Notifier) SetLogger(logger Logger) {
	n.mu.Lock()
	n.logger = logger
	n.mu.Unlock()
}

// Subscribe registers callback for every future change.
func (n *Notifier) Subscribe(callback func(ChangeEvent)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		id:       n.nextID,
		notifier: n,
		callback: callback,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	n.subs[sub.id] = sub

	n.wg.Add(1)
	go func(logger Logger) {
		defer n.wg.Done()
		sub.loop(logger)
	}(n.logger)

	return sub
}

// RegisterForChanges delivers code and userData to h on every change.
func (n *Notifier) RegisterForChanges(h Handler, code int, userData any) *Subscription {
	return n.Subscribe(func(ChangeEvent) {
		h.HandleChange(code, userData)
	})
}

// Notify schedules ev for every subscriber and returns immediately.
func (n *Notifier) Notify(ev ChangeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs {
		cp := ev
		cp.Cards = cloneCardInfos(ev.Cards)
		sub.offer(cp)
	}
}

// Len returns the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close cancels every subscription and waits for their goroutines to exit.
func (n *Notifier) Close() {
	n.mu.RLock()
	subs := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	n.wg.Wait()
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

func cloneCardInfos(in []CardInfo) []CardInfo {
	if in == nil {
		return nil
	}
	out := make([]CardInfo, len(in))
	for i, c := range in {
		c.Ports = slices.Clone(c.Ports)
		out[i] = c
	}
	return out
}

package uicc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultQueueSize is the event queue capacity when none is configured.
const defaultQueueSize = 64

// Radio is the modem collaborator. Requests are asynchronous: the answer
// arrives later as an event carrying the same token.
type Radio interface {
	// RequestCardStatus asks for the card status seen by one phone.
	RequestCardStatus(ctx context.Context, phone int, token string) error

	// RequestSlotStatus asks for the status of every physical slot.
	RequestSlotStatus(ctx context.Context, token string) error

	// ReadEID returns the EID of the card in a slot once it has been read
	// from the card. An empty string means it is still unknown.
	ReadEID(ctx context.Context, slot int) (string, error)
}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	// SlotCount is the number of physical slots. Required.
	SlotCount int

	// PhoneCount is the number of logical phone instances. Defaults to SlotCount.
	PhoneCount int

	// NonRemovableEuiccs lists the slot indices holding built-in eUICCs.
	NonRemovableEuiccs []int

	// Identities resolves public card IDs. Required.
	Identities *IdentityTable

	// Radio issues requests to the modem. Required.
	Radio Radio

	// Logger is optional.
	Logger Logger

	// QueueSize is the event queue capacity. Defaults to 64.
	QueueSize int
}

type requestKind int

const (
	requestCardStatus requestKind = iota
	requestSlotStatus
)

// pendingRequest remembers an outstanding request so its response can be
// matched, and dropped if the radio went away in between.
type pendingRequest struct {
	kind       requestKind
	phone      int
	generation uint64
}

// snapshot is the externally observable state used for change detection.
type snapshot struct {
	cards        []CardInfo
	defaultEuicc int
}

func (s snapshot) equal(o snapshot) bool {
	return s.defaultEuicc == o.defaultEuicc && slices.EqualFunc(s.cards, o.cards, CardInfo.Equal)
}

// Engine reconciles modem events into the slot registry.
//
// Events are queued by Post and handled one at a time by Run. The handler
// fields below the queue are only touched from that goroutine; stateMu
// guards the few fields the query methods also read.
type Engine struct {
	registry   *Registry
	ids        *IdentityTable
	radio      Radio
	notifier   *Notifier
	logger     Logger
	phoneCount int
	builtIn    map[int]bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the handling goroutine.
	generation uint64
	pending    map[string]pendingRequest
	nextCardID int64

	stateMu        sync.RWMutex
	radioState     RadioState
	lastSlotStatus []SlotStatus
	defaultEuicc   int
}

// NewEngine creates an engine with every slot absent and the radio unavailable.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.SlotCount < 1 {
		return nil, fmt.Errorf("%w: slot count must be at least 1", ErrInvalidConfig)
	}
	if opts.Identities == nil {
		return nil, fmt.Errorf("%w: identity table is required", ErrInvalidConfig)
	}
	if opts.Radio == nil {
		return nil, fmt.Errorf("%w: radio is required", ErrInvalidConfig)
	}
	for _, i := range opts.NonRemovableEuiccs {
		if i < 0 || i >= opts.SlotCount {
			return nil, fmt.Errorf("%w: non-removable eUICC slot %d out of range", ErrInvalidConfig, i)
		}
	}

	phoneCount := opts.PhoneCount
	if phoneCount <= 0 {
		phoneCount = opts.SlotCount
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	builtIn := make(map[int]bool, len(opts.NonRemovableEuiccs))
	for _, i := range opts.NonRemovableEuiccs {
		builtIn[i] = true
	}

	notifier := NewNotifier()
	notifier.SetLogger(logger)

	return &Engine{
		registry:     NewRegistry(opts.SlotCount, opts.NonRemovableEuiccs),
		ids:          opts.Identities,
		radio:        opts.Radio,
		notifier:     notifier,
		logger:       logger,
		phoneCount:   phoneCount,
		builtIn:      builtIn,
		events:       make(chan Event, queueSize),
		done:         make(chan struct{}),
		pending:      make(map[string]pendingRequest),
		radioState:   RadioUnavailable,
		defaultEuicc: UninitializedCardID,
	}, nil
}

// Post queues ev for handling. It blocks while the queue is full.
func (e *Engine) Post(ev Event) error {
	select {
	case <-e.done:
		return ErrEngineClosed
	default:
	}

	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

// Run handles queued events until ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("uicc engine started", "slots", e.registry.SlotCount(), "phones", e.phoneCount)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

// Close stops Run and cancels every subscription.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.notifier.Close()
	})
}

// Subscribe registers callback for every future change.
func (e *Engine) Subscribe(callback func(ChangeEvent)) *Subscription {
	return e.notifier.Subscribe(callback)
}

// RegisterForChanges delivers code and userData to h on every change.
func (e *Engine) RegisterForChanges(h Handler, code int, userData any) *Subscription {
	return e.notifier.RegisterForChanges(h, code, userData)
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case PowerChanged:
		e.handlePowerChanged(ctx, ev)
	case CardStatusReceived:
		e.handleCardStatus(ctx, ev)
	case SlotStatusReceived:
		e.handleSlotStatus(ctx, ev)
	case EidReady:
		e.handleEidReady(ctx, ev)
	default:
		e.logger.Warn("ignoring unknown uicc event", "type", fmt.Sprintf("%T", ev))
	}
}

// =============================================================================
// Radio power
// =============================================================================

func (e *Engine) handlePowerChanged(ctx context.Context, ev PowerChanged) {
	e.stateMu.Lock()
	prev := e.radioState
	e.radioState = ev.State
	e.stateMu.Unlock()

	if prev == ev.State {
		return
	}
	e.logger.Info("radio state changed", "from", prev.String(), "to", ev.State.String())

	switch ev.State {
	case RadioUnavailable:
		e.disposeAll()
	case RadioOn:
		e.requestStatus(ctx)
	}
}

// disposeAll drops every card object and forgets outstanding requests.
// The identity table is untouched, so cards get their old IDs back.
func (e *Engine) disposeAll() {
	e.generation++
	clear(e.pending)

	e.registry.mutate(func(slots []PhysicalSlot) {
		for i := range slots {
			s := &slots[i]
			s.Card = nil
			s.CardState = CardStateAbsent
			s.EID = ""
			s.PublicCardID = UninitializedCardID
			for j := range s.Ports {
				s.Ports[j].ICCID = ""
				s.Ports[j].Active = false
				s.Ports[j].PhoneIndex = InvalidPhoneIndex
			}
		}
	})

	e.stateMu.Lock()
	e.lastSlotStatus = nil
	e.stateMu.Unlock()

	e.recomputeDefault()
	e.notify(ReasonRadioUnavailable)
}

func (e *Engine) requestStatus(ctx context.Context) {
	for phone := 0; phone < e.phoneCount; phone++ {
		token := e.track(requestCardStatus, phone)
		if err := e.radio.RequestCardStatus(ctx, phone, token); err != nil {
			e.untrack(token)
			e.logger.Warn("card status request failed", "phone", phone, "error", err)
		}
	}

	token := e.track(requestSlotStatus, InvalidPhoneIndex)
	if err := e.radio.RequestSlotStatus(ctx, token); err != nil {
		e.untrack(token)
		e.logger.Warn("slot status request failed", "error", err)
	}
}

func (e *Engine) track(kind requestKind, phone int) string {
	token := uuid.NewString()
	e.pending[token] = pendingRequest{kind: kind, phone: phone, generation: e.generation}
	return token
}

func (e *Engine) untrack(token string) {
	delete(e.pending, token)
}

// accept decides whether a response is still current. Solicited responses
// must match an outstanding request of the same kind from this radio
// session; unsolicited ones are taken while the radio is available.
func (e *Engine) accept(token string, kind requestKind) (pendingRequest, bool) {
	if token == "" {
		if e.RadioState() == RadioUnavailable {
			return pendingRequest{}, false
		}
		return pendingRequest{kind: kind, phone: InvalidPhoneIndex, generation: e.generation}, true
	}

	req, ok := e.pending[token]
	if !ok || req.kind != kind || req.generation != e.generation {
		return pendingRequest{}, false
	}
	delete(e.pending, token)
	return req, true
}

// =============================================================================
// Card status
// =============================================================================

func (e *Engine) handleCardStatus(ctx context.Context, ev CardStatusReceived) {
	req, ok := e.accept(ev.Token, requestCardStatus)
	if !ok {
		e.logger.Debug("discarding stale card status", "token", ev.Token, "phone", ev.PhoneIndex)
		return
	}

	phone := ev.PhoneIndex
	if req.phone != InvalidPhoneIndex {
		phone = req.phone
	}
	if phone < 0 || phone >= e.phoneCount {
		e.logger.Warn("dropping card status for unknown phone", "phone", phone)
		return
	}

	status := ev.Status
	slotIdx := status.Mapping.PhysicalSlotIndex
	if slotIdx < 0 {
		// Older modems do not report the mapping; phone N sits on slot N.
		slotIdx = phone
	}
	if slotIdx >= e.registry.SlotCount() {
		e.logger.Warn("dropping card status for out of range slot", "slot", slotIdx, "phone", phone)
		return
	}
	portIdx := max(status.Mapping.PortIndex, 0)

	before := e.snapshot()

	if !status.CardState.IsPresent() {
		e.registry.mutate(func(slots []PhysicalSlot) {
			s := &slots[slotIdx]
			s.Card = nil
			s.CardState = status.CardState
			s.EID = ""
			s.PublicCardID = UninitializedCardID
			upsertPort(slots, slotIdx, Port{Index: portIdx, PhoneIndex: phone, Active: true})
		})
		e.finish(before, ReasonCardStatus)
		return
	}

	// An EID in the response wins; otherwise keep what the card object or
	// the slot already learned from an earlier exchange.
	eid := status.EID
	if eid == "" {
		if slot, ok := e.registry.Slot(slotIdx); ok {
			eid = slot.EID
			if slot.Card != nil && slot.Card.EID != "" {
				eid = slot.Card.EID
			}
		}
	}

	identifier := status.ICCID
	if eid != "" {
		identifier = eid
	}
	cardID := e.resolve(ctx, identifier)

	e.registry.mutate(func(slots []PhysicalSlot) {
		s := &slots[slotIdx]
		if s.Card == nil {
			e.nextCardID++
			s.Card = &Card{InternalID: e.nextCardID, PublicCardID: UninitializedCardID}
		}
		s.Card.State = status.CardState
		s.Card.ICCID = status.ICCID
		s.Card.EID = eid
		s.Card.PublicCardID = cardID
		s.Card.Applications = slices.Clone(status.Applications)

		s.CardState = status.CardState
		s.MEPMode = status.MEPMode
		if eid != "" {
			s.IsEuicc = true
			s.EID = eid
			s.PublicCardID = cardID
		}
		upsertPort(slots, slotIdx, Port{Index: portIdx, ICCID: status.ICCID, PhoneIndex: phone, Active: true})
	})

	e.finish(before, ReasonCardStatus)
}

// upsertPort replaces or appends a port and takes its phone away from any
// other port.
func upsertPort(slots []PhysicalSlot, slotIdx int, port Port) {
	s := &slots[slotIdx]
	replaced := false
	for i := range s.Ports {
		if s.Ports[i].Index == port.Index {
			s.Ports[i] = port
			replaced = true
			break
		}
	}
	if !replaced {
		s.Ports = append(s.Ports, port)
		slices.SortFunc(s.Ports, func(a, b Port) int { return a.Index - b.Index })
	}
	unbindPhone(slots, port.PhoneIndex, slotIdx, port.Index)
}

// =============================================================================
// Slot status
// =============================================================================

// SlotStatusChanged reports whether statuses differ from the last applied
// slot-status report. Order matters.
func (e *Engine) SlotStatusChanged(statuses []SlotStatus) bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastSlotStatus == nil || !slotStatusesEqual(statuses, e.lastSlotStatus)
}

func (e *Engine) handleSlotStatus(ctx context.Context, ev SlotStatusReceived) {
	if _, ok := e.accept(ev.Token, requestSlotStatus); !ok {
		e.logger.Debug("discarding stale slot status", "token", ev.Token)
		return
	}
	if !e.SlotStatusChanged(ev.Statuses) {
		e.logger.Debug("slot status unchanged")
		return
	}

	count := e.registry.SlotCount()
	ids := make([]int, len(ev.Statuses))
	resolved := true
	for i, st := range ev.Statuses {
		ids[i] = UninitializedCardID
		if st.SlotIndex < 0 || st.SlotIndex >= count {
			e.logger.Warn("dropping slot status entry for out of range slot", "slot", st.SlotIndex)
			continue
		}
		if st.EID != "" {
			ids[i] = e.resolve(ctx, st.EID)
			resolved = resolved && ids[i] != UninitializedCardID
		}
	}

	// A report with an unresolved EID is not remembered, so resending it
	// retries the resolution.
	e.stateMu.Lock()
	e.lastSlotStatus = nil
	if resolved {
		e.lastSlotStatus = cloneSlotStatuses(ev.Statuses)
	}
	e.stateMu.Unlock()

	e.registry.mutate(func(slots []PhysicalSlot) {
		for i, st := range ev.Statuses {
			if st.SlotIndex < 0 || st.SlotIndex >= count {
				continue
			}
			e.applySlotStatus(slots, st, ids[i])
		}
	})

	e.recomputeDefault()
	e.notify(ReasonSlotStatus)
}

func (e *Engine) applySlotStatus(slots []PhysicalSlot, st SlotStatus, cardID int) {
	s := &slots[st.SlotIndex]

	// Configuration marks built-in eUICCs; the modem cannot override that.
	builtIn := e.builtIn[st.SlotIndex]
	s.IsEuicc = st.IsEuicc || builtIn
	s.IsRemovable = st.IsRemovable && !builtIn
	s.MEPMode = st.MEPMode
	switch {
	case st.CardState != CardStateUnknown:
		s.CardState = st.CardState
	case st.EID != "" && !s.CardState.IsPresent():
		s.CardState = CardStatePresent
	}

	if st.CardState != CardStateUnknown && !st.CardState.IsPresent() {
		s.Card = nil
		s.EID = ""
		s.PublicCardID = UninitializedCardID
	}

	s.Ports = s.Ports[:0]
	for _, ps := range st.Ports {
		phone := ps.PhoneIndex
		if !ps.Active {
			phone = InvalidPhoneIndex
		}
		s.Ports = append(s.Ports, Port{Index: ps.PortIndex, ICCID: ps.ICCID, PhoneIndex: phone, Active: ps.Active})
	}
	slices.SortFunc(s.Ports, func(a, b Port) int { return a.Index - b.Index })
	for _, p := range s.Ports {
		if unbindPhone(slots, p.PhoneIndex, st.SlotIndex, p.Index) {
			e.logger.Warn("phone moved between slots", "phone", p.PhoneIndex, "slot", st.SlotIndex)
		}
	}

	// An empty EID leaves whatever identity the slot already has.
	if st.EID != "" && cardID != UninitializedCardID {
		s.EID = st.EID
		s.PublicCardID = cardID
		if s.Card != nil && s.Card.EID != st.EID {
			s.Card.EID = st.EID
			s.Card.PublicCardID = cardID
		}
	}
}

// =============================================================================
// EID ready
// =============================================================================

func (e *Engine) handleEidReady(ctx context.Context, ev EidReady) {
	if e.RadioState() == RadioUnavailable {
		e.logger.Debug("discarding eid ready while radio unavailable", "slot", ev.SlotIndex)
		return
	}
	slot, ok := e.registry.Slot(ev.SlotIndex)
	if !ok {
		e.logger.Warn("dropping eid ready for out of range slot", "slot", ev.SlotIndex)
		return
	}
	if slot.Card == nil && !slot.CardState.IsPresent() {
		e.logger.Debug("discarding eid ready for empty slot", "slot", ev.SlotIndex)
		return
	}

	eid, err := e.radio.ReadEID(ctx, ev.SlotIndex)
	if err != nil {
		e.logger.Warn("reading eid failed", "slot", ev.SlotIndex, "error", err)
		return
	}
	if eid == "" {
		e.logger.Debug("eid still unknown", "slot", ev.SlotIndex)
		return
	}

	cardID := e.resolve(ctx, eid)
	if cardID == UninitializedCardID {
		return
	}

	before := e.snapshot()
	e.registry.mutate(func(slots []PhysicalSlot) {
		s := &slots[ev.SlotIndex]
		s.IsEuicc = true
		s.EID = eid
		s.PublicCardID = cardID
		if s.Card != nil {
			s.Card.EID = eid
			s.Card.PublicCardID = cardID
		}
	})
	e.finish(before, ReasonEidReady)
}

// =============================================================================
// Shared helpers
// =============================================================================

// resolve converts identifier to a public card ID, logging store failures.
func (e *Engine) resolve(ctx context.Context, identifier string) int {
	if identifier == "" {
		return UninitializedCardID
	}
	id, err := e.ids.Resolve(ctx, identifier)
	if err != nil {
		e.logger.Error("resolving public card id failed", "error", err)
		return UninitializedCardID
	}
	return id
}

func (e *Engine) recomputeDefault() {
	var id int
	e.registry.view(func(slots []PhysicalSlot) {
		id = SelectDefaultEuicc(slots)
	})

	e.stateMu.Lock()
	e.defaultEuicc = id
	e.stateMu.Unlock()
}

// finish recomputes the default eUICC and notifies if anything visible changed.
func (e *Engine) finish(before snapshot, reason ChangeReason) {
	e.recomputeDefault()
	after := e.snapshot()
	if after.equal(before) {
		return
	}
	e.publish(reason, after)
}

func (e *Engine) notify(reason ChangeReason) {
	e.publish(reason, e.snapshot())
}

func (e *Engine) publish(reason ChangeReason, snap snapshot) {
	e.logger.Debug("uicc state changed", "reason", reason, "default_euicc", snap.defaultEuicc)
	e.notifier.Notify(ChangeEvent{
		Reason:             reason,
		Cards:              snap.cards,
		DefaultEuiccCardID: snap.defaultEuicc,
		At:                 time.Now().UTC(),
	})
}

func (e *Engine) snapshot() snapshot {
	return snapshot{
		cards:        e.AllCardInfos(),
		defaultEuicc: e.CardIDForDefaultEuicc(),
	}
}

package modem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cardslot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cardslot-core/internal/uicc"
)

// ErrNotStarted is returned by request methods before Start.
var ErrNotStarted = errors.New("modem: bridge not started")

// MQTTClient is the subset of *mqtt.Client the bridge uses. Requests and
// state go out at the client's configured QoS.
type MQTTClient interface {
	PublishDefault(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
	SubscribeDefault(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	HasSubscription(topic string) bool
	IsConnected() bool
}

// EventSink receives decoded modem events. *uicc.Engine satisfies it.
type EventSink interface {
	Post(ev uicc.Event) error
}

// Logger is the logging subset the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// MQTTClient is required.
	MQTTClient MQTTClient

	// Logger is optional.
	Logger Logger
}

// Bridge carries engine requests to the modem service and modem responses
// and indications back to the engine.
//
// All methods are safe for concurrent use.
type Bridge struct {
	mqtt   MQTTClient
	logger Logger

	sinkMu sync.RWMutex
	sink   EventSink

	eidMu sync.RWMutex
	eids  map[int]string

	lastMu sync.Mutex
	last   *uicc.ChangeEvent

	requests  atomic.Uint64
	responses atomic.Uint64
	events    atomic.Uint64
	dropped   atomic.Uint64
}

// NewBridge creates a bridge. Call Start to begin receiving.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Bridge{
		mqtt:   opts.MQTTClient,
		logger: logger,
		eids:   make(map[int]string),
	}, nil
}

// Start subscribes to modem responses and indications and routes them to
// sink.
func (b *Bridge) Start(_ context.Context, sink EventSink) error {
	if sink == nil {
		return fmt.Errorf("event sink is required")
	}
	b.sinkMu.Lock()
	b.sink = sink
	b.sinkMu.Unlock()

	for _, topic := range modemTopics() {
		if err := b.mqtt.SubscribeDefault(topic, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to modem topic", "topic", topic)
	}
	return nil
}

// Stop unsubscribes from the modem topics and detaches the sink. Messages
// still in flight are rejected with ErrNotStarted.
func (b *Bridge) Stop() {
	b.sinkMu.Lock()
	b.sink = nil
	b.sinkMu.Unlock()

	if !b.mqtt.IsConnected() {
		return
	}
	for _, topic := range modemTopics() {
		if err := b.mqtt.Unsubscribe(topic); err != nil {
			b.logger.Warn("unsubscribe from modem topic failed", "topic", topic, "error", err)
		}
	}
}

// HealthCheck reports whether the broker is reachable and both modem
// subscriptions are in place.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.mqtt.IsConnected() {
		return mqtt.ErrNotConnected
	}
	for _, topic := range modemTopics() {
		if !b.mqtt.HasSubscription(topic) {
			return fmt.Errorf("not subscribed to %s", topic)
		}
	}
	return nil
}

func modemTopics() []string {
	topics := mqtt.Topics{}
	return []string{topics.AllModemResponses(), topics.AllModemEvents()}
}

// RequestCardStatus publishes a card-status request for phone.
func (b *Bridge) RequestCardStatus(_ context.Context, phone int, token string) error {
	return b.request(mqtt.KindCardStatus, CardStatusRequest{
		Token:     token,
		Phone:     phone,
		Timestamp: time.Now().UTC(),
	})
}

// RequestSlotStatus publishes a slot-status request.
func (b *Bridge) RequestSlotStatus(_ context.Context, token string) error {
	return b.request(mqtt.KindSlotStatus, SlotStatusRequest{
		Token:     token,
		Timestamp: time.Now().UTC(),
	})
}

// ReadEID returns the EID last reported for slot, or "" if none yet.
func (b *Bridge) ReadEID(_ context.Context, slot int) (string, error) {
	b.eidMu.RLock()
	defer b.eidMu.RUnlock()
	return b.eids[slot], nil
}

func (b *Bridge) request(kind string, msg any) error {
	if b.currentSink() == nil {
		return ErrNotStarted
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", kind, err)
	}
	if err := b.mqtt.PublishDefault(mqtt.Topics{}.ModemRequest(kind), payload); err != nil {
		return fmt.Errorf("publish %s request: %w", kind, err)
	}
	b.requests.Add(1)
	return nil
}

// HandleMessage decodes one modem message and posts it to the engine.
// The topic's last level selects the message kind.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	sink := b.currentSink()
	if sink == nil {
		return ErrNotStarted
	}

	ev, err := b.decode(mqtt.KindFromTopic(topic), payload)
	if err != nil {
		b.dropped.Add(1)
		return fmt.Errorf("decode %s: %w", topic, err)
	}
	if err := sink.Post(ev); err != nil {
		b.dropped.Add(1)
		return fmt.Errorf("post %s: %w", topic, err)
	}
	return nil
}

func (b *Bridge) decode(kind string, payload []byte) (uicc.Event, error) {
	switch kind {
	case mqtt.KindCardStatus:
		var msg CardStatusResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		status, err := msg.toCardStatus()
		if err != nil {
			return nil, err
		}
		b.responses.Add(1)
		return uicc.CardStatusReceived{Token: msg.Token, PhoneIndex: msg.Phone, Status: status}, nil

	case mqtt.KindSlotStatus:
		var msg SlotStatusResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		statuses, skipped := msg.toSlotStatuses()
		for _, err := range skipped {
			b.logger.Warn("skipping malformed slot status entry", "error", err)
		}
		if len(statuses) == 0 && len(skipped) > 0 {
			return nil, fmt.Errorf("no usable slot status entries")
		}
		b.responses.Add(1)
		return uicc.SlotStatusReceived{Token: msg.Token, Statuses: statuses}, nil

	case mqtt.KindRadioState:
		var msg RadioStateEvent
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		state, err := uicc.ParseRadioState(msg.State)
		if err != nil {
			return nil, err
		}
		if state == uicc.RadioUnavailable {
			b.clearEIDs()
		}
		b.events.Add(1)
		return uicc.PowerChanged{State: state}, nil

	case mqtt.KindEidReady:
		var msg EidReadyEvent
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		if msg.EID != "" {
			b.eidMu.Lock()
			b.eids[msg.Slot] = msg.EID
			b.eidMu.Unlock()
		}
		b.events.Add(1)
		return uicc.EidReady{SlotIndex: msg.Slot}, nil

	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}

func (b *Bridge) clearEIDs() {
	b.eidMu.Lock()
	clear(b.eids)
	b.eidMu.Unlock()
}

func (b *Bridge) currentSink() EventSink {
	b.sinkMu.RLock()
	defer b.sinkMu.RUnlock()
	return b.sink
}

// PublishChange publishes ev as retained state: the full card list, one
// topic per slot, and the default eUICC. Failures are logged. The event is
// remembered so Resync can republish it after a reconnect.
func (b *Bridge) PublishChange(ev uicc.ChangeEvent) {
	b.lastMu.Lock()
	b.last = &ev
	b.lastMu.Unlock()

	b.publishState(ev)
}

// Resync republishes the most recent change, if any. Changes that arrived
// while the broker was unreachable were never published.
func (b *Bridge) Resync() {
	b.lastMu.Lock()
	last := b.last
	b.lastMu.Unlock()

	if last == nil {
		return
	}
	b.logger.Info("republishing card state", "reason", last.Reason)
	b.publishState(*last)
}

func (b *Bridge) publishState(ev uicc.ChangeEvent) {
	if !b.mqtt.IsConnected() {
		b.logger.Debug("skipping state publication while disconnected", "reason", ev.Reason)
		return
	}

	topics := mqtt.Topics{}
	b.publishRetained(topics.StateCards(), CardsStateMessage{
		Reason:       string(ev.Reason),
		DefaultEuicc: ev.DefaultEuiccCardID,
		Cards:        ev.Cards,
		Timestamp:    ev.At,
	})
	for _, info := range ev.Cards {
		b.publishRetained(topics.StateSlot(info.SlotIndex), info)
	}
	b.publishRetained(topics.StateDefaultEuicc(), DefaultEuiccMessage{
		CardID:    ev.DefaultEuiccCardID,
		Timestamp: ev.At,
	})
}

func (b *Bridge) publishRetained(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal state failed", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.PublishRetained(topic, payload); err != nil {
		b.logger.Warn("publish state failed", "topic", topic, "error", err)
	}
}

// Stats counts traffic through the bridge.
type Stats struct {
	Connected bool
	Requests  uint64
	Responses uint64
	Events    uint64
	Dropped   uint64
}

// GetStats returns the current counters.
func (b *Bridge) GetStats() Stats {
	return Stats{
		Connected: b.mqtt.IsConnected(),
		Requests:  b.requests.Load(),
		Responses: b.responses.Load(),
		Events:    b.events.Load(),
		Dropped:   b.dropped.Load(),
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

package uicc

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const (
	iccid0 = "89014103211118510720F"
	iccid1 = "8944500102198304826"
	eidA   = "89049032123451234512345678901235"
	eidB   = "89033023426200000000001234567890"
)

// setupTestDB opens an in-memory database with the card_ids and
// slot_history tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE card_ids (
			identifier TEXT PRIMARY KEY,
			card_id INTEGER NOT NULL UNIQUE CHECK (card_id >= 0),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE slot_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot_index INTEGER NOT NULL,
			card_id INTEGER NOT NULL,
			info TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	_, err = db.Exec(schema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// fakeRadio records the tokens of every request and serves EIDs from a map.
type fakeRadio struct {
	mu         sync.Mutex
	cardTokens map[int]string
	slotTokens []string
	eids       map[int]string
	cardErr    error
	eidErr     error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		cardTokens: make(map[int]string),
		eids:       make(map[int]string),
	}
}

func (r *fakeRadio) RequestCardStatus(_ context.Context, phone int, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cardErr != nil {
		return r.cardErr
	}
	r.cardTokens[phone] = token
	return nil
}

func (r *fakeRadio) RequestSlotStatus(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slotTokens = append(r.slotTokens, token)
	return nil
}

func (r *fakeRadio) ReadEID(_ context.Context, slot int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eids[slot], r.eidErr
}

func (r *fakeRadio) cardToken(phone int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cardTokens[phone]
}

func (r *fakeRadio) slotToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.slotTokens) == 0 {
		return ""
	}
	return r.slotTokens[len(r.slotTokens)-1]
}

// changeRecorder collects change events from a subscription.
type changeRecorder struct {
	ch chan ChangeEvent
}

func (c *changeRecorder) record(ev ChangeEvent) {
	c.ch <- ev
}

func (c *changeRecorder) expect(t *testing.T, reason ChangeReason) ChangeEvent {
	t.Helper()
	select {
	case ev := <-c.ch:
		require.Equal(t, reason, ev.Reason)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s notification", reason)
		return ChangeEvent{}
	}
}

func (c *changeRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected %s notification", ev.Reason)
	case <-time.After(100 * time.Millisecond):
	}
}

type testEngine struct {
	*Engine
	radio   *fakeRadio
	ids     *IdentityTable
	changes *changeRecorder
}

func newTestEngine(t *testing.T, slots int, builtIn ...int) *testEngine {
	t.Helper()
	return newTestEngineWithStore(t, NewMemoryIdentityStore(), slots, builtIn...)
}

func newTestEngineWithStore(t *testing.T, store IdentityStore, slots int, builtIn ...int) *testEngine {
	t.Helper()

	ids := NewIdentityTable(store)
	require.NoError(t, ids.Load(context.Background()))

	radio := newFakeRadio()
	e, err := NewEngine(EngineOptions{
		SlotCount:          slots,
		NonRemovableEuiccs: builtIn,
		Identities:         ids,
		Radio:              radio,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	rec := &changeRecorder{ch: make(chan ChangeEvent, 16)}
	e.Subscribe(rec.record)

	return &testEngine{Engine: e, radio: radio, ids: ids, changes: rec}
}

func (te *testEngine) send(ev Event) {
	te.handle(context.Background(), ev)
}

func (te *testEngine) powerOn() {
	te.send(PowerChanged{State: RadioOn})
}

func (te *testEngine) cardStatus(phone int, status CardStatus) {
	te.send(CardStatusReceived{Token: te.radio.cardToken(phone), PhoneIndex: phone, Status: status})
}

func (te *testEngine) slotStatus(statuses ...SlotStatus) {
	te.send(SlotStatusReceived{Token: te.radio.slotToken(), Statuses: statuses})
}

func present(slot int, iccid, eid string) CardStatus {
	return CardStatus{
		CardState: CardStatePresent,
		Mapping:   SlotPortMapping{PhysicalSlotIndex: slot},
		ICCID:     iccid,
		EID:       eid,
	}
}

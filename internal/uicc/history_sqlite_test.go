package uicc

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// insertHistoryRow inserts a slot history row with a specific timestamp.
func insertHistoryRow(t *testing.T, db *sql.DB, slot int, reason ChangeReason, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO slot_history (slot_index, card_id, info, reason, created_at) VALUES (?, ?, ?, ?, ?)",
		slot,
		UninitializedCardID,
		fmt.Sprintf(`{"slot_index":%d,"card_id":-2,"ports":[]}`, slot),
		string(reason),
		createdAt.UTC().Format(time.RFC3339),
	)
	require.NoError(t, err)
}

func TestRecordChange(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	ctx := context.Background()

	info := CardInfo{
		IsEuicc:     true,
		CardID:      3,
		EID:         eidA,
		SlotIndex:   1,
		IsRemovable: false,
		Ports:       []PortInfo{{ICCID: iccid1, PortIndex: 0, PhoneIndex: 0, Active: true}},
	}
	require.NoError(t, repo.RecordChange(ctx, info, ReasonEidReady))

	entries, err := repo.GetHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, 1, entry.SlotIndex)
	assert.Equal(t, ReasonEidReady, entry.Reason)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.True(t, info.Equal(entry.Info))

	var cardID int
	require.NoError(t, db.QueryRow("SELECT card_id FROM slot_history WHERE id = ?", entry.ID).Scan(&cardID))
	assert.Equal(t, 3, cardID)
}

func TestRecordChange_RequiresReason(t *testing.T) {
	repo := NewSQLiteSlotHistoryRepository(setupTestDB(t))
	assert.Error(t, repo.RecordChange(context.Background(), CardInfo{}, ""))
}

func TestGetHistory_OrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertHistoryRow(t, db, 0, ReasonRadioUnavailable, now.Add(-2*time.Hour))
	insertHistoryRow(t, db, 0, ReasonCardStatus, now.Add(-time.Hour))
	insertHistoryRow(t, db, 0, ReasonSlotStatus, now)
	insertHistoryRow(t, db, 1, ReasonSlotStatus, now)

	entries, err := repo.GetHistory(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ReasonSlotStatus, entries[0].Reason)
	assert.True(t, entries[0].CreatedAt.Equal(now))
	assert.Equal(t, ReasonCardStatus, entries[1].Reason)

	entries, err = repo.GetHistory(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "zero limit uses the default")

	entries, err = repo.GetHistory(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPruneHistory(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	insertHistoryRow(t, db, 0, ReasonCardStatus, now.Add(-48*time.Hour))
	insertHistoryRow(t, db, 0, ReasonCardStatus, now.Add(-36*time.Hour))
	insertHistoryRow(t, db, 0, ReasonCardStatus, now.Add(-time.Hour))

	n, err := repo.PruneHistory(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := repo.GetHistory(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = repo.PruneHistory(ctx, 0)
	assert.Error(t, err)
}

func TestHistoryRecorder_RecordsOnlyChangedSlots(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	rec := NewHistoryRecorder(repo, nil)
	ctx := context.Background()

	slot0 := CardInfo{SlotIndex: 0, CardID: UninitializedCardID, Ports: []PortInfo{}}
	slot1 := CardInfo{SlotIndex: 1, CardID: UninitializedCardID, Ports: []PortInfo{}}
	rec.Record(ChangeEvent{Reason: ReasonRadioUnavailable, Cards: []CardInfo{slot0, slot1}})

	changed := slot1
	changed.CardID = 0
	rec.Record(ChangeEvent{Reason: ReasonCardStatus, Cards: []CardInfo{slot0, changed}})

	first, err := repo.GetHistory(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := repo.GetHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 0, second[0].Info.CardID)
	assert.Equal(t, ReasonCardStatus, second[0].Reason)
}

func TestHistoryRecorder_WithEngine(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	rec := NewHistoryRecorder(repo, nil)

	e := newTestEngine(t, 1)
	recorded := make(chan struct{}, 4)
	e.Subscribe(func(ev ChangeEvent) {
		rec.Record(ev)
		recorded <- struct{}{}
	})

	e.powerOn()
	e.cardStatus(0, present(0, iccid0, ""))

	select {
	case <-recorded:
	case <-time.After(2 * time.Second):
		t.Fatal("history not recorded")
	}

	entries, err := repo.GetHistory(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Info.CardID)
	assert.Equal(t, NormalizeIdentifier(iccid0), entries[0].Info.Ports[0].ICCID)
}

// rejectSlot makes every slot_history insert for slot fail until the
// returned func is called.
func rejectSlot(t *testing.T, db *sql.DB, slot int) func() {
	t.Helper()
	_, err := db.Exec(fmt.Sprintf(
		`CREATE TRIGGER reject_slot BEFORE INSERT ON slot_history
		 WHEN NEW.slot_index = %d
		 BEGIN SELECT RAISE(ABORT, 'slot rejected'); END`, slot))
	require.NoError(t, err)
	return func() {
		_, err := db.Exec("DROP TRIGGER reject_slot")
		require.NoError(t, err)
	}
}

func TestRecordChanges(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	ctx := context.Background()

	infos := []CardInfo{
		{SlotIndex: 0, CardID: 1, Ports: []PortInfo{}},
		{SlotIndex: 1, CardID: 2, Ports: []PortInfo{}},
	}
	require.NoError(t, repo.RecordChanges(ctx, infos, ReasonSlotStatus))
	require.NoError(t, repo.RecordChanges(ctx, nil, ReasonSlotStatus))

	for _, info := range infos {
		entries, err := repo.GetHistory(ctx, info.SlotIndex, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, info.CardID, entries[0].Info.CardID)
	}

	assert.Error(t, repo.RecordChanges(ctx, infos, ""))
}

func TestRecordChanges_AllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	ctx := context.Background()
	rejectSlot(t, db, 1)

	err := repo.RecordChanges(ctx, []CardInfo{
		{SlotIndex: 0, CardID: 1, Ports: []PortInfo{}},
		{SlotIndex: 1, CardID: 2, Ports: []PortInfo{}},
	}, ReasonSlotStatus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 1")

	entries, err := repo.GetHistory(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "slot 0 insert must be rolled back")
}

func TestHistoryRecorder_RetriesFailedEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSlotHistoryRepository(db)
	rec := NewHistoryRecorder(repo, nil)
	ctx := context.Background()

	ev := ChangeEvent{Reason: ReasonSlotStatus, Cards: []CardInfo{
		{SlotIndex: 0, CardID: 1, Ports: []PortInfo{}},
		{SlotIndex: 1, CardID: 2, Ports: []PortInfo{}},
	}}

	allow := rejectSlot(t, db, 1)
	rec.Record(ev)
	entries, err := repo.GetHistory(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	allow()
	rec.Record(ev)
	for slot := 0; slot < 2; slot++ {
		entries, err := repo.GetHistory(ctx, slot, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "slot %d", slot)
	}
}

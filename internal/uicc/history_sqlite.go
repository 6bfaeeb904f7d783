package uicc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SlotHistoryEntry is one recorded change of a slot.
type SlotHistoryEntry struct {
	ID        int64
	SlotIndex int
	Info      CardInfo
	Reason    ChangeReason
	CreatedAt time.Time
}

// HistoryDB is the subset of a database handle the history repository
// needs. Both *sql.DB and *database.DB satisfy it.
type HistoryDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SQLiteSlotHistoryRepository stores slot card info snapshots as JSON in
// the slot_history table.
type SQLiteSlotHistoryRepository struct {
	db HistoryDB
}

// NewSQLiteSlotHistoryRepository creates a new SQLite slot history repository.
func NewSQLiteSlotHistoryRepository(db HistoryDB) *SQLiteSlotHistoryRepository {
	return &SQLiteSlotHistoryRepository{db: db}
}

const insertHistorySQL = "INSERT INTO slot_history (slot_index, card_id, info, reason) VALUES (?, ?, ?, ?)"

// RecordChange inserts a history entry for the slot described by info.
func (r *SQLiteSlotHistoryRepository) RecordChange(ctx context.Context, info CardInfo, reason ChangeReason) error {
	if reason == "" {
		return fmt.Errorf("reason is required")
	}

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshalling card info: %w", err)
	}

	_, err = r.db.ExecContext(ctx, insertHistorySQL, info.SlotIndex, info.CardID, string(infoJSON), string(reason))
	if err != nil {
		return fmt.Errorf("inserting slot history: %w", err)
	}
	return nil
}

// RecordChanges inserts one entry per info in a single transaction. Either
// every entry is stored or none is.
func (r *SQLiteSlotHistoryRepository) RecordChanges(ctx context.Context, infos []CardInfo, reason ChangeReason) error {
	if reason == "" {
		return fmt.Errorf("reason is required")
	}
	if len(infos) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, insertHistorySQL)
	if err != nil {
		return fmt.Errorf("preparing slot history insert: %w", err)
	}
	defer stmt.Close()

	for _, info := range infos {
		infoJSON, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshalling card info for slot %d: %w", info.SlotIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, info.SlotIndex, info.CardID, string(infoJSON), string(reason)); err != nil {
			return fmt.Errorf("inserting slot history for slot %d: %w", info.SlotIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing slot history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a slot, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteSlotHistoryRepository) GetHistory(ctx context.Context, slotIndex int, limit int) ([]SlotHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slot_index, info, reason, created_at
		 FROM slot_history
		 WHERE slot_index = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		slotIndex,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying slot history: %w", err)
	}
	defer rows.Close()

	entries := make([]SlotHistoryEntry, 0, limit)
	for rows.Next() {
		var entry SlotHistoryEntry
		var infoJSON, reason, createdAt string

		if err := rows.Scan(&entry.ID, &entry.SlotIndex, &infoJSON, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning slot history: %w", err)
		}
		if err := json.Unmarshal([]byte(infoJSON), &entry.Info); err != nil {
			return nil, fmt.Errorf("unmarshalling card info: %w", err)
		}
		entry.Reason = ChangeReason(reason)

		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slot history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns how many went.
func (r *SQLiteSlotHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, "DELETE FROM slot_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting slot history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// HistoryRecorder records the slots that differ from the previous change
// event. Its Record method is meant to be passed to Engine.Subscribe.
type HistoryRecorder struct {
	repo   *SQLiteSlotHistoryRepository
	logger Logger

	mu   sync.Mutex
	last map[int]CardInfo
}

// NewHistoryRecorder creates a recorder writing to repo.
func NewHistoryRecorder(repo *SQLiteSlotHistoryRepository, logger Logger) *HistoryRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryRecorder{
		repo:   repo,
		logger: logger,
		last:   make(map[int]CardInfo),
	}
}

// Record stores every slot in ev that changed since the last call. The
// changed slots of one event are written together; on failure none are
// remembered, so the next event retries them.
func (h *HistoryRecorder) Record(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var changed []CardInfo
	for _, info := range ev.Cards {
		if prev, ok := h.last[info.SlotIndex]; ok && prev.Equal(info) {
			continue
		}
		changed = append(changed, info)
	}
	if len(changed) == 0 {
		return
	}

	if err := h.repo.RecordChanges(context.Background(), changed, ev.Reason); err != nil {
		h.logger.Error("recording slot history failed", "slots", len(changed), "error", err)
		return
	}
	for _, info := range changed {
		h.last[info.SlotIndex] = info
	}
}

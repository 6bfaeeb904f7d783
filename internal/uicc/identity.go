package uicc

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// IdentityStore persists the identifier to public card ID mapping.
// Implementations must be safe for concurrent use.
type IdentityStore interface {
	// LoadAll returns every stored mapping.
	LoadAll(ctx context.Context) (map[string]int, error)

	// Insert stores a new mapping. It must fail if either side already exists.
	Insert(ctx context.Context, identifier string, cardID int) error
}

// eidLength is the length of an EID. Identifiers this long are never padded.
const eidLength = 32

// NormalizeIdentifier strips the trailing 'F' filler nibbles used to pad
// ICCIDs to an even length. Full-length EIDs are returned unchanged.
func NormalizeIdentifier(identifier string) string {
	if len(identifier) >= eidLength {
		return identifier
	}
	return strings.TrimRight(identifier, "Ff")
}

// IdentityTable maps ICCIDs and EIDs to stable public card IDs.
//
// IDs are allocated monotonically from 0 and never reused. The table is
// read through an in-memory cache loaded from the store by Load.
//
// All methods are safe for concurrent use. Reads proceed in parallel;
// allocations are serialised.
type IdentityTable struct {
	store IdentityStore

	mu     sync.RWMutex
	ids    map[string]int
	nextID int
}

// NewIdentityTable creates an identity table backed by store.
// Call Load before resolving so persisted IDs are honoured.
func NewIdentityTable(store IdentityStore) *IdentityTable {
	return &IdentityTable{
		store: store,
		ids:   make(map[string]int),
	}
}

// Load reads all persisted mappings into the cache.
func (t *IdentityTable) Load(ctx context.Context) error {
	stored, err := t.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading identities: %w", ErrIdentityStore, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ids = make(map[string]int, len(stored))
	t.nextID = 0
	for identifier, id := range stored {
		t.ids[identifier] = id
		if id >= t.nextID {
			t.nextID = id + 1
		}
	}
	return nil
}

// Lookup returns the public card ID of identifier without allocating.
func (t *IdentityTable) Lookup(identifier string) (int, bool) {
	if identifier == "" {
		return UninitializedCardID, false
	}
	key := NormalizeIdentifier(identifier)

	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[key]
	if !ok {
		return UninitializedCardID, false
	}
	return id, true
}

// Resolve returns the public card ID of identifier, allocating and
// persisting a new one if it has never been seen.
//
// Empty identifiers return UninitializedCardID and ErrEmptyIdentifier
// without touching the table. Nothing is cached unless the store accepted
// the new mapping.
func (t *IdentityTable) Resolve(ctx context.Context, identifier string) (int, error) {
	key := NormalizeIdentifier(identifier)
	if key == "" {
		return UninitializedCardID, ErrEmptyIdentifier
	}

	if id, ok := t.Lookup(key); ok {
		return id, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another caller may have allocated while we waited for the lock.
	if id, ok := t.ids[key]; ok {
		return id, nil
	}

	id := t.nextID
	if err := t.store.Insert(ctx, key, id); err != nil {
		return UninitializedCardID, fmt.Errorf("%w: storing %d: %w", ErrIdentityStore, id, err)
	}
	t.ids[key] = id
	t.nextID++
	return id, nil
}

// Len returns the number of known identifiers.
func (t *IdentityTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

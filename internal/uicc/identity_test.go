package uicc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects every insert.
type failingStore struct {
	*MemoryIdentityStore
	err error
}

func (s failingStore) Insert(context.Context, string, int) error {
	return s.err
}

// flakyStore fails inserts while fail is set.
type flakyStore struct {
	*MemoryIdentityStore
	fail atomic.Bool
}

func (s *flakyStore) Insert(ctx context.Context, identifier string, cardID int) error {
	if s.fail.Load() {
		return errors.New("store offline")
	}
	return s.MemoryIdentityStore.Insert(ctx, identifier, cardID)
}

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"89014103211118510720F", "89014103211118510720"},
		{"8901410321111851072fFF", "8901410321111851072"},
		{"8944500102198304826", "8944500102198304826"},
		{"FFFF", ""},
		{"", ""},
		{"8904903212345123451234567890123F", "8904903212345123451234567890123F"},
		{"8904903212345123451234567890123FF", "8904903212345123451234567890123FF"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeIdentifier(tt.in))
		})
	}
}

func TestIdentityTable_FullLengthEidEndingInF(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityTable(NewMemoryIdentityStore())

	eid := "8904903212345123451234567890123F"
	trimmed := "8904903212345123451234567890123"

	a, err := ids.Resolve(ctx, eid)
	require.NoError(t, err)
	b, err := ids.Resolve(ctx, trimmed)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	got, ok := ids.Lookup(eid)
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestIdentityTable_ResolveAllocatesSequentially(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityTable(NewMemoryIdentityStore())
	require.NoError(t, ids.Load(ctx))

	first, err := ids.Resolve(ctx, iccid0)
	require.NoError(t, err)
	second, err := ids.Resolve(ctx, eidA)
	require.NoError(t, err)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, ids.Len())

	again, err := ids.Resolve(ctx, iccid0)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestIdentityTable_FillerDoesNotChangeIdentity(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityTable(NewMemoryIdentityStore())

	padded, err := ids.Resolve(ctx, "89014103211118510720F")
	require.NoError(t, err)
	bare, err := ids.Resolve(ctx, "89014103211118510720")
	require.NoError(t, err)

	assert.Equal(t, padded, bare)
	assert.Equal(t, 1, ids.Len())
}

func TestIdentityTable_EmptyIdentifier(t *testing.T) {
	ids := NewIdentityTable(NewMemoryIdentityStore())

	id, err := ids.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
	assert.Equal(t, UninitializedCardID, id)

	id, err = ids.Resolve(context.Background(), "FF")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
	assert.Equal(t, UninitializedCardID, id)

	assert.Zero(t, ids.Len())
}

func TestIdentityTable_Lookup(t *testing.T) {
	ids := NewIdentityTable(NewMemoryIdentityStore())

	_, ok := ids.Lookup(eidA)
	assert.False(t, ok)

	want, err := ids.Resolve(context.Background(), eidA)
	require.NoError(t, err)

	got, ok := ids.Lookup(eidA)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ids.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, UninitializedCardID, got)
}

func TestIdentityTable_StoreFailureIsNotCached(t *testing.T) {
	storeErr := errors.New("disk full")
	ids := NewIdentityTable(failingStore{MemoryIdentityStore: NewMemoryIdentityStore(), err: storeErr})

	id, err := ids.Resolve(context.Background(), eidA)
	assert.ErrorIs(t, err, ErrIdentityStore)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, UninitializedCardID, id)

	_, ok := ids.Lookup(eidA)
	assert.False(t, ok)
	assert.Zero(t, ids.Len())
}

func TestIdentityTable_LoadContinuesNumbering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdentityStore()
	require.NoError(t, store.Insert(ctx, "A", 0))
	require.NoError(t, store.Insert(ctx, "B", 4))

	ids := NewIdentityTable(store)
	require.NoError(t, ids.Load(ctx))

	got, ok := ids.Lookup("B")
	require.True(t, ok)
	assert.Equal(t, 4, got)

	next, err := ids.Resolve(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestIdentityTable_ConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityTable(NewMemoryIdentityStore())

	const workers = 16
	results := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := ids.Resolve(ctx, eidB)
			assert.NoError(t, err)
			results[i] = id
		}()
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.Equal(t, 1, ids.Len())
}

func TestMemoryIdentityStore_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdentityStore()

	require.NoError(t, store.Insert(ctx, "A", 0))
	assert.Error(t, store.Insert(ctx, "A", 1))
	assert.Error(t, store.Insert(ctx, "B", 0))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0}, all)

	// LoadAll hands out a copy.
	all["C"] = 9
	again, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestSQLiteIdentityStore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewSQLiteIdentityStore(db)

	require.NoError(t, store.Insert(ctx, NormalizeIdentifier(iccid0), 0))
	require.NoError(t, store.Insert(ctx, eidA, 1))

	assert.Error(t, store.Insert(ctx, eidA, 2), "identifier must be unique")
	assert.Error(t, store.Insert(ctx, eidB, 1), "card id must be unique")

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{NormalizeIdentifier(iccid0): 0, eidA: 1}, all)
}

func TestSQLiteIdentityStore_IDsSurviveReload(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	first := NewIdentityTable(NewSQLiteIdentityStore(db))
	require.NoError(t, first.Load(ctx))
	a, err := first.Resolve(ctx, eidA)
	require.NoError(t, err)
	b, err := first.Resolve(ctx, iccid1)
	require.NoError(t, err)

	second := NewIdentityTable(NewSQLiteIdentityStore(db))
	require.NoError(t, second.Load(ctx))

	got, ok := second.Lookup(eidA)
	require.True(t, ok)
	assert.Equal(t, a, got)
	got, ok = second.Lookup(iccid1)
	require.True(t, ok)
	assert.Equal(t, b, got)

	c, err := second.Resolve(ctx, eidB)
	require.NoError(t, err)
	assert.Equal(t, 2, c)
}

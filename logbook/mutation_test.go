package logbook

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestOptimisticMutationRollback(t *testing.T) {
	cache := NewQueryCacheWithDefaults(context.Background())
	defer cache.Close()

	key := QueryKey{"statuses", 1}

	fetcher := func(ctx context.Context, key QueryKey) (any, error) {
		return []Status{{Id: 1, Nama: "X"}}, nil
	}
	query := cache.Read(key, fetcher, DefaultQueryOptions())
	defer query.Close()
	awaitState(t, query, QueryState.IsSuccess)

	networkRelease := make(chan struct{})
	mutator := NewMutator(
		cache,
		func(ctx context.Context, args *StatusArgs) (*Status, error) {
			<-networkRelease
			return nil, &ApiError{StatusCode: 500, Message: "write failed"}
		},
		&MutationCallbacks[*StatusArgs, *Status]{
			AffectedPrefixes: []QueryKey{{"statuses"}},
			ApplyOptimistic: func(cache *QueryCache, args *StatusArgs) {
				cache.SetEntryData(key, func(previous any) any {
					statuses, ok := previous.([]Status)
					if !ok {
						return previous
					}
					next := make([]Status, len(statuses))
					copy(next, statuses)
					for i := range next {
						if next[i].Id == 1 {
							next[i].Nama = args.Nama
						}
					}
					return next
				})
			},
		},
	)

	outcomes := make(chan *MutationOutcome[*Status], 1)
	go func() {
		outcome, _ := mutator.Mutate(context.Background(), &StatusArgs{Nama: "Y"})
		outcomes <- outcome
	}()

	// the optimistic value is visible before the network settles
	awaitState(t, query, func(state QueryState) bool {
		statuses, ok := StateData[[]Status](state)
		return ok && len(statuses) == 1 && statuses[0].Nama == "Y"
	})

	close(networkRelease)

	var outcome *MutationOutcome[*Status]
	select {
	case outcome = <-outcomes:
	case <-time.After(5 * time.Second):
		t.Fatal("mutation did not settle")
	}

	assert.Equal(t, MutationOutcomeRollback, outcome.Kind)
	assert.NotEqual(t, nil, outcome.Err)

	// the cache reverted exactly, with no residual optimistic value
	state := awaitState(t, query, func(state QueryState) bool {
		statuses, ok := StateData[[]Status](state)
		return ok && len(statuses) == 1 && statuses[0].Nama == "X"
	})
	statuses, _ := StateData[[]Status](state)
	assert.Equal(t, []Status{{Id: 1, Nama: "X"}}, statuses)
}

func TestOptimisticCreateRollbackRemovesEntry(t *testing.T) {
	cache := NewQueryCacheWithDefaults(context.Background())
	defer cache.Close()

	// optimistic create onto a key that does not exist yet
	key := QueryKey{"statuses", "detail", 9}

	mutator := NewMutator(
		cache,
		func(ctx context.Context, args *StatusArgs) (*Status, error) {
			return nil, &ApiError{StatusCode: 500, Message: "write failed"}
		},
		&MutationCallbacks[*StatusArgs, *Status]{
			AffectedPrefixes: []QueryKey{{"statuses"}},
			ApplyOptimistic: func(cache *QueryCache, args *StatusArgs) {
				cache.SetEntryData(key, func(previous any) any {
					return &Status{Id: 9, Nama: args.Nama}
				})
			},
		},
	)

	outcome, err := mutator.Mutate(context.Background(), &StatusArgs{Nama: "Baru"})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, MutationOutcomeRollback, outcome.Kind)

	// the entry created by the optimistic apply does not survive rollback
	_, ok := cache.GetEntryData(key)
	assert.Equal(t, false, ok)
	assert.Equal(t, 0, cache.Size())
}

func TestMutationSettleInvalidates(t *testing.T) {
	cache := NewQueryCacheWithDefaults(context.Background())
	defer cache.Close()

	var fetchCount int32
	key := QueryKey{"statuses", 1}
	query := cache.Read(key, func(ctx context.Context, key QueryKey) (any, error) {
		return atomic.AddInt32(&fetchCount, 1), nil
	}, DefaultQueryOptions())
	defer query.Close()
	awaitState(t, query, QueryState.IsSuccess)

	var settled atomic.Bool
	var succeeded atomic.Bool

	// the default shape: no optimistic apply, reconcile on settle only
	mutator := NewMutator(
		cache,
		func(ctx context.Context, args *StatusArgs) (*Status, error) {
			return &Status{Id: 7, Nama: args.Nama}, nil
		},
		&MutationCallbacks[*StatusArgs, *Status]{
			AffectedPrefixes: []QueryKey{{"statuses"}},
			OnSuccess: func(result *Status, args *StatusArgs) {
				succeeded.Store(true)
			},
			OnSettled: func(args *StatusArgs) {
				settled.Store(true)
			},
		},
	)

	outcome, err := mutator.Mutate(context.Background(), &StatusArgs{Nama: "Baru"})
	assert.Equal(t, nil, err)
	assert.Equal(t, MutationOutcomeOk, outcome.Kind)
	assert.Equal(t, "Baru", outcome.Value.Nama)
	assert.Equal(t, true, succeeded.Load())
	assert.Equal(t, true, settled.Load())

	// the observed key reconciled with exactly one refetch
	awaitState(t, query, func(state QueryState) bool {
		return state.Data == int32(2)
	})
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetchCount))
}

func TestMutationErrorWithoutOptimisticApply(t *testing.T) {
	cache := NewQueryCacheWithDefaults(context.Background())
	defer cache.Close()

	var gotErr error
	mutator := NewMutator(
		cache,
		func(ctx context.Context, args *StatusArgs) (*Status, error) {
			return nil, &ApiError{StatusCode: 422, Message: "nama wajib diisi"}
		},
		&MutationCallbacks[*StatusArgs, *Status]{
			OnError: func(err error, args *StatusArgs) {
				gotErr = err
			},
		},
	)

	outcome, err := mutator.Mutate(context.Background(), &StatusArgs{})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, MutationOutcomeRollback, outcome.Kind)
	assert.Equal(t, "nama wajib diisi", gotErr.Error())
}

func TestMutationCancelsInFlightFetch(t *testing.T) {
	cache := NewQueryCacheWithDefaults(context.Background())
	defer cache.Close()

	key := QueryKey{"statuses", 1}

	var fetchCount int32
	staleRelease := make(chan struct{})
	fetcher := func(ctx context.Context, key QueryKey) (any, error) {
		if atomic.AddInt32(&fetchCount, 1) == 2 {
			// this fetch is in flight when the mutation starts
			<-staleRelease
			return "stale server value", nil
		}
		return "server value", nil
	}

	query := cache.Read(key, fetcher, DefaultQueryOptions())
	defer query.Close()
	awaitState(t, query, QueryState.IsSuccess)

	query.Refetch()
	awaitState(t, query, func(state QueryState) bool {
		return state.IsFetching
	})

	// pre-phase cancels the in-flight fetch, then writes optimistically
	cache.CancelQueries(QueryKey{"statuses"})
	cache.SetEntryData(key, func(previous any) any {
		return "optimistic value"
	})

	// the canceled fetch resolves and must be discarded
	close(staleRelease)
	time.Sleep(100 * time.Millisecond)

	data, ok := cache.GetEntryData(key)
	assert.Equal(t, true, ok)
	assert.Equal(t, "optimistic value", data)
}

package logbook

import (
	"context"

	"github.com/golang/glog"
)

// MutationContext is the ephemeral record of one optimistic mutation:
// the pre-write snapshot used for rollback, plus the input variables.
// created in the pre-phase, consumed by exactly one of success (discarded)
// or error (restored), destroyed when the mutation settles.
type MutationContext struct {
	mutationId Id
	snapshot   map[string]snapshotEntry
	prefixes   []QueryKey
	variables  any
}

type MutationOutcomeKind string

const (
	MutationOutcomeOk       MutationOutcomeKind = "ok"
	MutationOutcomeRollback MutationOutcomeKind = "rollback"
)

// MutationOutcome is the tagged result of one mutation: either the server
// value, or a rollback that restored the snapshotted cache state.
type MutationOutcome[R any] struct {
	Kind  MutationOutcomeKind
	Value R
	Err   error
}

// MutationCallbacks shape one mutation's cache behavior.
//
// AffectedPrefixes are both canceled before an optimistic write and
// invalidated on settle, so the cache always reconverges on server truth.
type MutationCallbacks[V any, R any] struct {
	AffectedPrefixes []QueryKey

	// apply the optimistic change via the sanctioned write path.
	// nil means the mutation is not optimistic and only invalidates on
	// settle, which is the default for most writes in this system.
	ApplyOptimistic func(cache *QueryCache, variables V)

	OnSuccess func(result R, variables V)
	OnError   func(err error, variables V)
	OnSettled func(variables V)
}

// Mutator performs one kind of write against the gateway while keeping the
// query cache visually consistent, even under failure.
type Mutator[V any, R any] struct {
	cache     *QueryCache
	network   func(ctx context.Context, variables V) (R, error)
	callbacks *MutationCallbacks[V, R]
}

func NewMutator[V any, R any](
	cache *QueryCache,
	network func(ctx context.Context, variables V) (R, error),
	callbacks *MutationCallbacks[V, R],
) *Mutator[V, R] {
	if callbacks == nil {
		callbacks = &MutationCallbacks[V, R]{}
	}
	return &Mutator[V, R]{
		cache:     cache,
		network:   network,
		callbacks: callbacks,
	}
}

// Mutate runs the phases in order:
// pre (cancel, snapshot, optimistic apply), network, success or error
// (rollback), settle (invalidate affected prefixes).
//
// note when two mutations race on the same key, the second snapshot is
// taken after the first optimistic write, so its rollback restores the
// first's optimistic state rather than the original. the settle
// invalidation converges both.
func (self *Mutator[V, R]) Mutate(ctx context.Context, variables V) (*MutationOutcome[R], error) {
	var mutationContext *MutationContext

	if self.callbacks.ApplyOptimistic != nil {
		for _, keyPrefix := range self.callbacks.AffectedPrefixes {
			self.cache.CancelQueries(keyPrefix)
		}
		mutationContext = &MutationContext{
			mutationId: NewId(),
			snapshot:   self.cache.snapshotPrefixes(self.callbacks.AffectedPrefixes),
			prefixes:   self.callbacks.AffectedPrefixes,
			variables:  variables,
		}
		self.callbacks.ApplyOptimistic(self.cache, variables)
		glog.V(1).Infof("[mut]%s optimistic apply\n", mutationContext.mutationId)
	}

	result, err := self.network(ctx, variables)

	var outcome *MutationOutcome[R]
	if err == nil {
		// the snapshot is discarded; server truth arrives via settle
		if self.callbacks.OnSuccess != nil {
			self.callbacks.OnSuccess(result, variables)
		}
		outcome = &MutationOutcome[R]{
			Kind:  MutationOutcomeOk,
			Value: result,
		}
	} else {
		if mutationContext != nil {
			self.cache.restoreSnapshot(mutationContext.snapshot, mutationContext.prefixes)
			glog.V(1).Infof("[mut]%s rollback = %s\n", mutationContext.mutationId, err)
		}
		if self.callbacks.OnError != nil {
			self.callbacks.OnError(err, variables)
		}
		outcome = &MutationOutcome[R]{
			Kind: MutationOutcomeRollback,
			Err:  err,
		}
	}

	// settle: reconcile any divergence between the optimistic guess and
	// server reality
	for _, keyPrefix := range self.callbacks.AffectedPrefixes {
		self.cache.Invalidate(keyPrefix)
	}
	if self.callbacks.OnSettled != nil {
		self.callbacks.OnSettled(variables)
	}

	return outcome, err
}

package logbook

import (
	"context"
	"sync"
	"time"
)

type QueryOptions struct {
	// freshness window. zero means a new observer always revalidates.
	StaleTime time.Duration
	// a disabled query stays idle and never fetches
	Enabled bool
	// when the key changes, keep showing the old key's data until the new
	// key's fetch resolves
	KeepPreviousData bool
}

func DefaultQueryOptions() *QueryOptions {
	return &QueryOptions{
		Enabled: true,
	}
}

// QueryState is a point-in-time view for subscribers.
// IsLoading is true only while fetching with nothing to show;
// with previous data visible the same fetch reports IsFetching instead.
type QueryState struct {
	Status     QueryStatus
	Data       any
	Err        error
	IsLoading  bool
	IsFetching bool
	IsError    bool
	// Data is carried over from a previous key and not yet confirmed
	IsPlaceholder bool
}

func (self QueryState) IsSuccess() bool {
	return self.Status == QueryStatusSuccess
}

// StateData returns the state's payload as T.
func StateData[T any](state QueryState) (T, bool) {
	data, ok := state.Data.(T)
	return data, ok
}

// the fetcher receives the key so one fetcher serves a key that changes
// (pagination, search)
type QueryFetcher func(ctx context.Context, key QueryKey) (any, error)

// Query is a live-updating read handle on one cache entry.
// components hold only this handle; they never touch entries directly.
type Query struct {
	ctx    context.Context
	cancel context.CancelFunc

	cache   *QueryCache
	fetcher QueryFetcher

	update *Monitor

	stateLock       sync.Mutex
	key             QueryKey
	options         QueryOptions
	previousData    any
	hasPreviousData bool
}

// Read subscribes to `key` and schedules a fetch according to `options`.
// the handle must be closed when its consumer goes away.
func (self *QueryCache) Read(key QueryKey, fetcher QueryFetcher, options *QueryOptions) *Query {
	if options == nil {
		options = DefaultQueryOptions()
	}

	cancelCtx, cancel := context.WithCancel(self.ctx)
	query := &Query{
		ctx:     cancelCtx,
		cancel:  cancel,
		cache:   self,
		fetcher: fetcher,
		update:  NewMonitor(),
		key:     key,
		options: *options,
	}

	self.observe(key)
	if options.Enabled {
		self.maybeFetch(key, query.bind(key), options.StaleTime, false)
	}

	go query.run()

	return query
}

func (self *Query) bind(key QueryKey) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return self.fetcher(ctx, key)
	}
}

// forward cache updates to this handle's subscribers
func (self *Query) run() {
	defer self.cancel()

	for {
		notify := self.cache.update.NotifyChannel()
		select {
		case <-self.ctx.Done():
			return
		case <-notify:
			self.update.NotifyAll()
		}
	}
}

func (self *Query) NotifyChannel() <-chan struct{} {
	return self.update.NotifyChannel()
}

func (self *Query) Key() QueryKey {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.key
}

// SetKey moves the handle to a new key, e.g. the next page.
// with KeepPreviousData the old key's payload stays visible until the new
// key's fetch resolves.
func (self *Query) SetKey(key QueryKey) {
	self.stateLock.Lock()
	if self.key.Equal(key) {
		self.stateLock.Unlock()
		return
	}
	previousKey := self.key
	options := self.options
	self.key = key
	self.stateLock.Unlock()

	if options.KeepPreviousData {
		if snapshot, ok := self.cache.entryState(previousKey); ok && snapshot.hasData {
			self.stateLock.Lock()
			self.previousData = snapshot.data
			self.hasPreviousData = true
			self.stateLock.Unlock()
		}
	}

	self.cache.observe(key)
	self.cache.unobserve(previousKey)

	if options.Enabled {
		self.cache.maybeFetch(key, self.bind(key), options.StaleTime, false)
	}

	self.update.NotifyAll()
}

// SetEnabled gates the query on a precondition, e.g. a minimum search
// length. enabling schedules a fetch if the entry is not fresh.
func (self *Query) SetEnabled(enabled bool) {
	self.stateLock.Lock()
	if self.options.Enabled == enabled {
		self.stateLock.Unlock()
		return
	}
	self.options.Enabled = enabled
	key := self.key
	staleTime := self.options.StaleTime
	self.stateLock.Unlock()

	if enabled {
		self.cache.maybeFetch(key, self.bind(key), staleTime, false)
	}

	self.update.NotifyAll()
}

// Refetch forces a revalidation of the current key.
func (self *Query) Refetch() {
	self.stateLock.Lock()
	key := self.key
	enabled := self.options.Enabled
	self.stateLock.Unlock()

	if enabled {
		self.cache.maybeFetch(key, self.bind(key), 0, true)
	}
}

func (self *Query) State() QueryState {
	self.stateLock.Lock()
	key := self.key
	options := self.options
	previousData := self.previousData
	hasPreviousData := self.hasPreviousData
	self.stateLock.Unlock()

	snapshot, ok := self.cache.entryState(key)

	if !ok || (!options.Enabled && !snapshot.hasData) {
		return QueryState{
			Status: QueryStatusIdle,
		}
	}

	if snapshot.hasData && hasPreviousData {
		// the new key resolved; drop the carry-over
		self.stateLock.Lock()
		self.previousData = nil
		self.hasPreviousData = false
		self.stateLock.Unlock()
		hasPreviousData = false
	}

	if !snapshot.hasData && hasPreviousData && options.KeepPreviousData {
		return QueryState{
			Status:        QueryStatusSuccess,
			Data:          previousData,
			IsFetching:    snapshot.fetching,
			IsPlaceholder: true,
		}
	}

	return QueryState{
		Status:     snapshot.status,
		Data:       snapshot.data,
		Err:        snapshot.err,
		IsLoading:  snapshot.fetching && !snapshot.hasData,
		IsFetching: snapshot.fetching,
		IsError:    snapshot.status == QueryStatusError,
	}
}

// Await blocks until the state satisfies `condition` or the context ends.
func (self *Query) Await(ctx context.Context, condition func(QueryState) bool) (QueryState, error) {
	for {
		notify := self.update.NotifyChannel()

		state := self.State()
		if condition(state) {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-self.ctx.Done():
			return state, self.ctx.Err()
		case <-notify:
		}
	}
}

// Close releases the subscription. a pending fetch is allowed to complete
// and cache its result.
func (self *Query) Close() {
	self.cancel()

	self.stateLock.Lock()
	key := self.key
	self.stateLock.Unlock()

	self.cache.unobserve(key)
}

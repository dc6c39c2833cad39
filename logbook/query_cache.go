package logbook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"
)

// QueryKey addresses one cached, fetchable resource instance,
// e.g. {"statuses", page, search, perPage}.
// identity is the serialized form; prefix matching is element-wise,
// so {"statuses"} matches every statuses page.
type QueryKey []any

func (self QueryKey) String() string {
	keyBytes, err := json.Marshal([]any(self))
	if err != nil {
		// query keys are plain values; a non-serializable key is a programmer error
		panic(err)
	}
	return string(keyBytes)
}

func (self QueryKey) Equal(other QueryKey) bool {
	return self.String() == other.String()
}

func (self QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(self) < len(prefix) {
		return false
	}
	for i := range prefix {
		a, err := json.Marshal(prefix[i])
		if err != nil {
			return false
		}
		b, err := json.Marshal(self[i])
		if err != nil {
			return false
		}
		if string(a) != string(b) {
			return false
		}
	}
	return true
}

type QueryStatus string

const (
	QueryStatusIdle    QueryStatus = "idle"
	QueryStatusLoading QueryStatus = "loading"
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusError   QueryStatus = "error"
)

type queryEntry struct {
	key    QueryKey
	status QueryStatus
	data   any
	err    error

	fetchedAt  time.Time
	stale      bool
	optimistic bool

	// bumped by CancelQueries. a resolving fetch with an older seq is discarded.
	fetchSeq uint64
	// in-flight fetches for the current seq
	inFlight int

	fetcher func(ctx context.Context) (any, error)

	observers    int
	unobservedAt time.Time
}

// read-only view of an entry handed to query handles
type entrySnapshot struct {
	status     QueryStatus
	data       any
	err        error
	hasData    bool
	fetching   bool
	stale      bool
	optimistic bool
	fetchedAt  time.Time
}

type QueryCacheSettings struct {
	// how long an entry with zero observers is retained
	GcTime     time.Duration
	GcInterval time.Duration
}

func DefaultQueryCacheSettings() *QueryCacheSettings {
	return &QueryCacheSettings{
		GcTime:     5 * time.Minute,
		GcInterval: 1 * time.Minute,
	}
}

// QueryCache is the single source of truth for asynchronous read results.
// entries are written only by fetch resolution and by the mutation
// coordinator's sanctioned SetEntryData/Invalidate calls.
type QueryCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *QueryCacheSettings

	stateLock sync.Mutex
	entries   map[string]*queryEntry

	// concurrent fetches for the same key share one call
	sf singleflight.Group

	update *Monitor
}

func NewQueryCacheWithDefaults(ctx context.Context) *QueryCache {
	return NewQueryCache(ctx, DefaultQueryCacheSettings())
}

func NewQueryCache(ctx context.Context, settings *QueryCacheSettings) *QueryCache {
	cancelCtx, cancel := context.WithCancel(ctx)
	cache := &QueryCache{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		entries:  map[string]*queryEntry{},
		update:   NewMonitor(),
	}
	go cache.run()
	return cache
}

// notified on every cache state change
func (self *QueryCache) Update() *Monitor {
	return self.update
}

func (self *QueryCache) run() {
	defer self.cancel()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.GcInterval):
		}

		removed := 0
		self.stateLock.Lock()
		for keyStr, entry := range self.entries {
			if entry.observers == 0 && entry.inFlight == 0 &&
				!entry.unobservedAt.IsZero() &&
				self.settings.GcTime <= time.Since(entry.unobservedAt) {
				delete(self.entries, keyStr)
				removed += 1
			}
		}
		self.stateLock.Unlock()

		if 0 < removed {
			glog.V(1).Infof("[qc]gc removed = %d\n", removed)
			self.update.NotifyAll()
		}
	}
}

func (self *QueryCache) Close() {
	self.cancel()
}

// must hold stateLock
func (self *QueryCache) openEntry(key QueryKey) *queryEntry {
	keyStr := key.String()
	entry, ok := self.entries[keyStr]
	if !ok {
		entry = &queryEntry{
			key:    key,
			status: QueryStatusIdle,
		}
		self.entries[keyStr] = entry
	}
	return entry
}

func (self *QueryCache) observe(key QueryKey) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry := self.openEntry(key)
	entry.observers += 1
	entry.unobservedAt = time.Time{}
}

func (self *QueryCache) unobserve(key QueryKey) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[key.String()]
	if !ok {
		return
	}
	entry.observers -= 1
	if entry.observers <= 0 {
		entry.observers = 0
		entry.unobservedAt = time.Now()
	}
}

func (self *QueryCache) entryState(key QueryKey) (entrySnapshot, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[key.String()]
	if !ok {
		return entrySnapshot{}, false
	}
	return entrySnapshot{
		status:     entry.status,
		data:       entry.data,
		err:        entry.err,
		hasData:    entry.status == QueryStatusSuccess || entry.data != nil,
		fetching:   0 < entry.inFlight,
		stale:      entry.stale,
		optimistic: entry.optimistic,
		fetchedAt:  entry.fetchedAt,
	}, true
}

func (self *QueryCache) Size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.entries)
}

// maybeFetch schedules a background fetch for `key` unless the entry is
// fresh within `staleTime` or a fetch for it is already in flight.
func (self *QueryCache) maybeFetch(
	key QueryKey,
	fetcher func(ctx context.Context) (any, error),
	staleTime time.Duration,
	force bool,
) {
	keyStr := key.String()

	self.stateLock.Lock()
	entry := self.openEntry(key)
	entry.fetcher = fetcher

	if 0 < entry.inFlight {
		// request de-duplication: ride the in-flight fetch
		self.stateLock.Unlock()
		return
	}
	if !force && entry.status == QueryStatusSuccess && !entry.stale {
		if time.Since(entry.fetchedAt) < staleTime {
			self.stateLock.Unlock()
			return
		}
	}

	entry.inFlight += 1
	if entry.status == QueryStatusIdle {
		entry.status = QueryStatusLoading
	}
	fetchSeq := entry.fetchSeq
	self.stateLock.Unlock()

	self.update.NotifyAll()

	go self.fetch(key, keyStr, fetchSeq, fetcher)
}

func (self *QueryCache) fetch(
	key QueryKey,
	keyStr string,
	fetchSeq uint64,
	fetcher func(ctx context.Context) (any, error),
) {
	value, err, shared := self.sf.Do(keyStr, func() (any, error) {
		return fetcher(self.ctx)
	})
	if shared {
		glog.V(2).Infof("[qc]shared fetch %s\n", keyStr)
	}

	self.stateLock.Lock()
	entry, ok := self.entries[keyStr]
	if !ok {
		// cleared while in flight
		self.stateLock.Unlock()
		return
	}
	if entry.fetchSeq != fetchSeq {
		// canceled. a late response must not clobber the optimistic value.
		self.stateLock.Unlock()
		glog.V(1).Infof("[qc]discard canceled fetch %s\n", keyStr)
		return
	}
	entry.inFlight -= 1
	if err == nil {
		entry.data = value
		entry.err = nil
		entry.status = QueryStatusSuccess
		entry.fetchedAt = time.Now()
		entry.stale = false
		entry.optimistic = false
	} else {
		// keep last known good data
		entry.err = err
		entry.status = QueryStatusError
	}
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

// Invalidate marks every entry whose key starts with `keyPrefix` stale and
// refetches those with at least one active observer.
func (self *QueryCache) Invalidate(keyPrefix QueryKey) {
	type refetch struct {
		key     QueryKey
		fetcher func(ctx context.Context) (any, error)
	}

	refetches := []refetch{}

	self.stateLock.Lock()
	for keyStr, entry := range self.entries {
		if !entry.key.HasPrefix(keyPrefix) {
			continue
		}
		entry.stale = true
		if 0 < entry.inFlight {
			// a fetch started before the invalidation would resolve with
			// pre-invalidation data and stamp it fresh. cancel it so the
			// refetch below is authoritative.
			entry.fetchSeq += 1
			entry.inFlight = 0
			self.sf.Forget(keyStr)
		}
		if 0 < entry.observers && entry.fetcher != nil {
			refetches = append(refetches, refetch{
				key:     entry.key,
				fetcher: entry.fetcher,
			})
		}
	}
	self.stateLock.Unlock()

	glog.V(1).Infof("[qc]invalidate %s refetch = %d\n", keyPrefix, len(refetches))
	self.update.NotifyAll()

	for _, r := range refetches {
		self.maybeFetch(r.key, r.fetcher, 0, true)
	}
}

// CancelQueries discards the results of in-flight fetches for every entry
// whose key starts with `keyPrefix`. used by the mutation coordinator to
// protect an impending optimistic write.
func (self *QueryCache) CancelQueries(keyPrefix QueryKey) {
	self.stateLock.Lock()
	for keyStr, entry := range self.entries {
		if !entry.key.HasPrefix(keyPrefix) {
			continue
		}
		if 0 < entry.inFlight {
			entry.fetchSeq += 1
			entry.inFlight = 0
			self.sf.Forget(keyStr)
			if entry.status == QueryStatusLoading {
				entry.status = QueryStatusIdle
			}
		}
	}
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

// SetEntryData synchronously overwrites an entry's data via a pure function
// of the previous value. the entry is considered optimistically updated,
// not freshly fetched: `fetchedAt` is untouched.
func (self *QueryCache) SetEntryData(key QueryKey, updater func(previous any) any) {
	self.stateLock.Lock()
	entry := self.openEntry(key)
	entry.data = updater(entry.data)
	entry.status = QueryStatusSuccess
	entry.optimistic = true
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

func (self *QueryCache) GetEntryData(key QueryKey) (any, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[key.String()]
	if !ok || entry.status != QueryStatusSuccess {
		return nil, false
	}
	return entry.data, true
}

// ClearAll destroys every entry. used on logout so no cross-session data
// leaks into the next session.
func (self *QueryCache) ClearAll() {
	self.stateLock.Lock()
	for _, keyStr := range maps.Keys(self.entries) {
		self.sf.Forget(keyStr)
	}
	self.entries = map[string]*queryEntry{}
	self.stateLock.Unlock()

	glog.V(1).Infof("[qc]clear all\n")
	self.update.NotifyAll()
}

type snapshotEntry struct {
	key        QueryKey
	status     QueryStatus
	data       any
	optimistic bool
}

// snapshot of current data for every entry matching one of the prefixes.
// consumed by the mutation coordinator's rollback path.
func (self *QueryCache) snapshotPrefixes(keyPrefixes []QueryKey) map[string]snapshotEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	snapshot := map[string]snapshotEntry{}
	for keyStr, entry := range self.entries {
		for _, keyPrefix := range keyPrefixes {
			if entry.key.HasPrefix(keyPrefix) {
				snapshot[keyStr] = snapshotEntry{
					key:        entry.key,
					status:     entry.status,
					data:       entry.data,
					optimistic: entry.optimistic,
				}
				break
			}
		}
	}
	return snapshot
}

// exactly undoes the optimistic writes applied since the snapshot was taken.
// an entry matching the prefixes but absent from the snapshot was created by
// the optimistic apply itself and is removed outright.
func (self *QueryCache) restoreSnapshot(snapshot map[string]snapshotEntry, keyPrefixes []QueryKey) {
	self.stateLock.Lock()
	for keyStr, entry := range self.entries {
		if _, ok := snapshot[keyStr]; ok {
			continue
		}
		for _, keyPrefix := range keyPrefixes {
			if entry.key.HasPrefix(keyPrefix) {
				delete(self.entries, keyStr)
				self.sf.Forget(keyStr)
				break
			}
		}
	}
	for keyStr, previous := range snapshot {
		entry, ok := self.entries[keyStr]
		if !ok {
			entry = &queryEntry{
				key: previous.key,
			}
			self.entries[keyStr] = entry
		}
		entry.data = previous.data
		entry.status = previous.status
		entry.optimistic = previous.optimistic
	}
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

func (self *QueryCache) String() string {
	return fmt.Sprintf("query cache (%d entries)", self.Size())
}

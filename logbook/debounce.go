package logbook

import (
	"context"
	"sync"
	"time"
)

const DefaultDebounceDelay = 500 * time.Millisecond

// Debouncer turns a rapidly changing input into a trailing-edge stable
// value: the output updates to the input only after `delay` with no
// further Set. every Set restarts the delay.
type Debouncer[T comparable] struct {
	ctx    context.Context
	cancel context.CancelFunc

	delay time.Duration

	update *Monitor

	stateLock sync.Mutex
	input     T
	value     T
	// bumped on every Set so a superseded timer commits nothing
	setSeq uint64
}

func NewDebouncerWithDefaults[T comparable](ctx context.Context) *Debouncer[T] {
	return NewDebouncer[T](ctx, DefaultDebounceDelay)
}

func NewDebouncer[T comparable](ctx context.Context, delay time.Duration) *Debouncer[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Debouncer[T]{
		ctx:    cancelCtx,
		cancel: cancel,
		delay:  delay,
		update: NewMonitor(),
	}
}

func (self *Debouncer[T]) Set(input T) {
	self.stateLock.Lock()
	if self.input == input {
		self.stateLock.Unlock()
		return
	}
	self.input = input
	self.setSeq += 1
	setSeq := self.setSeq
	self.stateLock.Unlock()

	time.AfterFunc(self.delay, func() {
		self.stateLock.Lock()
		// Close cancels under the same lock, so a pending update can
		// never commit after Close returns
		if self.ctx.Err() != nil {
			self.stateLock.Unlock()
			return
		}
		if self.setSeq != setSeq {
			// superseded by a later Set
			self.stateLock.Unlock()
			return
		}
		changed := self.value != self.input
		self.value = self.input
		self.stateLock.Unlock()

		if changed {
			self.update.NotifyAll()
		}
	})
}

// the debounced value
func (self *Debouncer[T]) Value() T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.value
}

// the raw input as of the last Set
func (self *Debouncer[T]) Input() T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.input
}

func (self *Debouncer[T]) NotifyChannel() <-chan struct{} {
	return self.update.NotifyChannel()
}

func (self *Debouncer[T]) Close() {
	self.stateLock.Lock()
	self.cancel()
	self.stateLock.Unlock()
}

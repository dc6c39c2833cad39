package logbook

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()

	assert.Equal(t, 0, len(callbacks.Get()))

	aId := callbacks.Add(func() int { return 1 })
	bId := callbacks.Add(func() int { return 2 })

	values := []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, []int{1, 2}, values)

	callbacks.Remove(aId)
	values = []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, []int{2}, values)

	// removing twice is safe
	callbacks.Remove(aId)
	callbacks.Remove(bId)
	assert.Equal(t, 0, len(callbacks.Get()))
}

func TestMonitorNotify(t *testing.T) {
	monitor := NewMonitor()

	notify := monitor.NotifyChannel()
	select {
	case <-notify:
		t.Fatal("channel closed before notify")
	default:
	}

	monitor.NotifyAll()

	select {
	case <-notify:
	default:
		t.Fatal("channel not closed after notify")
	}

	// a fresh channel is armed for the next notify
	next := monitor.NotifyChannel()
	select {
	case <-next:
		t.Fatal("next channel closed without a notify")
	default:
	}
}

func TestIdRoundTrip(t *testing.T) {
	id := NewId()
	assert.NotEqual(t, Id{}, id)

	parsed, err := ParseId(id.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, id, parsed)
}

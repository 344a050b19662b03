package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(func(ev Event) { got = append(got, "first:"+ev.Name()) })
	bus.Subscribe(func(ev Event) { got = append(got, "second:"+ev.Name()) })

	bus.Publish(ContentBlockerUpdated{RulesCount: 3})

	assert.Equal(t, []string{"first:contentBlockerUpdated", "second:contentBlockerUpdated"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0

	unsubscribe := bus.Subscribe(func(Event) { calls++ })
	other := 0
	bus.Subscribe(func(Event) { other++ })

	bus.Publish(FiltersUpdateFinished{Success: true})
	unsubscribe()
	unsubscribe()
	bus.Publish(FiltersUpdateFinished{Success: true})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(ContentBlockerUpdated{}) })
}

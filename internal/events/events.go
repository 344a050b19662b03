// Package events carries notifications from the pipeline to its observers.
package events

import (
	"sync"

	"github.com/bnema/cbsync/internal/models"
)

// Event is implemented by every notification published on a Bus
type Event interface {
	Name() string
}

// ContentBlockerUpdated is published after every successful compilation pass
type ContentBlockerUpdated struct {
	RulesCount                 int
	OverLimit                  bool
	AdvancedBlockingRulesCount int
}

// BlockerInfo summarizes one content blocker
type BlockerInfo struct {
	RulesCount int  `json:"rules_count"`
	OverLimit  bool `json:"over_limit"`
	HasError   bool `json:"has_error"`
}

// ContentBlockerUpdateRequired carries the payload the host must load for
// one output group
type ContentBlockerUpdateRequired struct {
	Group    models.OutputGroup
	Compiled *models.CompiledBlockSet
	Info     BlockerInfo
}

// FilterDownloadStarted is published before a filter's rules are fetched
type FilterDownloadStarted struct {
	Filter models.FilterMetadata
}

// FilterDownloadSucceeded is published once a filter's new rules are stored
type FilterDownloadSucceeded struct {
	Filter     models.FilterMetadata
	RulesCount int
}

// FilterDownloadFailed is published when fetching a filter fails
type FilterDownloadFailed struct {
	Filter models.FilterMetadata
	Err    error
}

// FiltersUpdateFinished closes an update check
type FiltersUpdateFinished struct {
	Success bool
	Forced  bool
	Updated []models.FilterMetadata
}

func (ContentBlockerUpdated) Name() string        { return "contentBlockerUpdated" }
func (ContentBlockerUpdateRequired) Name() string { return "contentBlockerUpdateRequired" }
func (FilterDownloadStarted) Name() string        { return "filterDownloadStarted" }
func (FilterDownloadSucceeded) Name() string      { return "filterDownloadSucceeded" }
func (FilterDownloadFailed) Name() string         { return "filterDownloadFailed" }
func (FiltersUpdateFinished) Name() string        { return "filtersUpdateFinished" }

// Listener receives published events synchronously
type Listener func(Event)

// Bus fans events out to listeners in subscription order
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id int
	fn Listener
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function removing it
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.listeners {
			if s.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every listener. Listeners must not block.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	for i, s := range b.listeners {
		listeners[i] = s.fn
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

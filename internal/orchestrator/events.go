package orchestrator

import (
	"sort"
	"sync"

	"github.com/makeasinger/studio/internal/model"
)

// Observer receives orchestrator events. It runs on the goroutine that
// caused the event and may call back into the orchestrator.
type Observer func(model.Event)

type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]Observer
}

func (b *bus) subscribe(fn Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]Observer)
	}
	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(ev model.Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (b *bus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

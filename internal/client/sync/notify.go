package sync

import (
	"sync"

	"github.com/openclerk/recordsync/internal/models"
)

// notifier fans record changes out to UI subscribers. Callbacks run
// synchronously on the engine goroutine; subscribers that need to block
// must hand off themselves.
type notifier struct {
	mu   sync.RWMutex
	subs map[string]map[int]func(*models.Record)
	next int
}

func subKey(collection, id string) string {
	return collection + "/" + id
}

func (n *notifier) subscribe(collection, id string, fn func(*models.Record)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[string]map[int]func(*models.Record))
	}
	key := subKey(collection, id)
	if n.subs[key] == nil {
		n.subs[key] = make(map[int]func(*models.Record))
	}
	n.next++
	token := n.next
	n.subs[key][token] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[key], token)
			if len(n.subs[key]) == 0 {
				delete(n.subs, key)
			}
		})
	}
}

func (n *notifier) notify(collection, id string, rec *models.Record) {
	n.mu.RLock()
	fns := make([]func(*models.Record), 0, len(n.subs[subKey(collection, id)]))
	for _, fn := range n.subs[subKey(collection, id)] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		if rec != nil {
			fn(rec.Clone())
		} else {
			fn(nil)
		}
	}
}

package kv

import (
	"sort"
	"sync"
)

// ChangeHandler receives the set of subscribed keys that changed in one
// notification. Keys are sorted and unique.
type ChangeHandler func(keys []string)

// Notifier is a store's change feed: an explicit subscription map from key
// name to a live subscription, plus the single handler that subscribed
// changes are delivered to.
//
// Stores call Publish after every write and whenever an external writer is
// detected. Only keys with a live subscription reach the handler; a key
// whose subscription has been torn down is silently dropped, which is how
// the sync engine keeps its own writes from re-triggering synchronization.
//
// Notifier is safe for concurrent use. The handler is invoked on the
// publishing goroutine, outside the notifier's lock.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[string]struct{}
	handler ChangeHandler
}

// NewNotifier creates a notifier with no subscriptions and no handler.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]struct{})}
}

// SetHandler installs the handler that receives published changes.
// Passing nil detaches the current handler.
func (n *Notifier) SetHandler(h ChangeHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

// Subscribe registers a live subscription for key. It returns false if the
// key was already subscribed.
func (n *Notifier) Subscribe(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[key]; ok {
		return false
	}
	n.subs[key] = struct{}{}
	return true
}

// Unsubscribe tears down the subscription for key. It returns false if
// there was none.
func (n *Notifier) Unsubscribe(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[key]; !ok {
		return false
	}
	delete(n.subs, key)
	return true
}

// Subscribed reports whether key currently has a live subscription.
func (n *Notifier) Subscribed(key string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.subs[key]
	return ok
}

// Subscriptions returns the subscribed keys in sorted order.
func (n *Notifier) Subscriptions() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.subs))
	for k := range n.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Publish reports that keys changed. The keys are filtered down to live
// subscriptions and, if any remain, delivered to the handler in a single
// call.
func (n *Notifier) Publish(keys []string) {
	n.mu.RLock()
	handler := n.handler
	var changed []string
	if handler != nil {
		seen := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			if _, ok := n.subs[k]; !ok {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			changed = append(changed, k)
		}
	}
	n.mu.RUnlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	handler(changed)
}

package kv

import (
	"reflect"
	"sync"
	"testing"
)

// recorder collects handler invocations.
type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) handle(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, keys)
}

func (r *recorder) get() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func TestNotifier_SubscribeIdempotent(t *testing.T) {
	n := NewNotifier()

	if !n.Subscribe("a") {
		t.Error("first Subscribe(a) should report a new subscription")
	}
	if n.Subscribe("a") {
		t.Error("second Subscribe(a) should be a no-op")
	}
	if !n.Subscribed("a") {
		t.Error("a should be subscribed")
	}

	if !n.Unsubscribe("a") {
		t.Error("Unsubscribe(a) should report a removal")
	}
	if n.Unsubscribe("a") {
		t.Error("second Unsubscribe(a) should be a no-op")
	}
	if n.Subscribed("a") {
		t.Error("a should not be subscribed")
	}
}

func TestNotifier_PublishFiltersAndBatches(t *testing.T) {
	n := NewNotifier()
	rec := &recorder{}
	n.SetHandler(rec.handle)

	n.Subscribe("b")
	n.Subscribe("a")

	n.Publish([]string{"b", "x", "a", "b"})

	calls := rec.get()
	if len(calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(calls))
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(calls[0], want) {
		t.Errorf("handler keys = %v, want %v", calls[0], want)
	}
}

func TestNotifier_PublishUnsubscribedIsSilent(t *testing.T) {
	n := NewNotifier()
	rec := &recorder{}
	n.SetHandler(rec.handle)

	n.Publish([]string{"a"})
	n.Subscribe("a")
	n.Unsubscribe("a")
	n.Publish([]string{"a"})

	if calls := rec.get(); len(calls) != 0 {
		t.Errorf("handler called %d times, want 0", len(calls))
	}
}

func TestNotifier_NoHandler(t *testing.T) {
	n := NewNotifier()
	n.Subscribe("a")

	// Must not panic.
	n.Publish([]string{"a"})

	rec := &recorder{}
	n.SetHandler(rec.handle)
	n.SetHandler(nil)
	n.Publish([]string{"a"})

	if calls := rec.get(); len(calls) != 0 {
		t.Errorf("detached handler called %d times", len(calls))
	}
}

func TestNotifier_Subscriptions(t *testing.T) {
	n := NewNotifier()
	n.Subscribe("c")
	n.Subscribe("a")
	n.Subscribe("b")

	if got, want := n.Subscriptions(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Subscriptions() = %v, want %v", got, want)
	}
}

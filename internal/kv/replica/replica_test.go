package replica

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestReplica(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() without a path should fail")
	}
}

func TestLocalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.db")
	s := openTestReplica(t, path)
	ctx := context.Background()

	if s.Replicated() {
		t.Error("store without a primary URL should not be replicated")
	}

	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	v, ok, err := s.Get(ctx, "theme")
	if err != nil || !ok || v != "dark" {
		t.Errorf("Get(theme) = %v, %v, %v", v, ok, err)
	}
}

func TestPull_ReportsOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.db")
	s := openTestReplica(t, path)
	other := openTestReplica(t, path)
	ctx := context.Background()

	_ = s.Set(ctx, "mine", 1)
	_ = other.Set(ctx, "theirs", 1)

	changed, err := s.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if want := []string{"theirs"}; !reflect.DeepEqual(changed, want) {
		t.Errorf("Pull() = %v, want %v", changed, want)
	}
}

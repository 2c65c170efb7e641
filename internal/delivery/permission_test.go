package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lalithlochan/vigil/internal/db"
)

type memoryPermissionStore struct {
	mu    sync.Mutex
	state string
	err   error
}

func (m *memoryPermissionStore) GetPermission(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

func (m *memoryPermissionStore) SetPermission(_ context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state = state
	return nil
}

func (m *memoryPermissionStore) SeedPermission(_ context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.state == "" {
		m.state = state
	}
	return nil
}

func TestPermissionGate_Require(t *testing.T) {
	ctx := context.Background()
	g := NewPermissionGate(PermissionDefault)
	if err := g.Require(ctx); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if err := g.Set(ctx, PermissionGranted); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := g.Require(ctx); err != nil {
		t.Fatalf("granted should pass, got %v", err)
	}
}

func TestSharedPermissionGate(t *testing.T) {
	ctx := context.Background()
	store := &memoryPermissionStore{}
	foreground := NewSharedPermissionGate(store, PermissionDefault)
	background := NewSharedPermissionGate(store, PermissionGranted)

	if p, err := background.Permission(ctx); err != nil || p != PermissionGranted {
		t.Fatalf("unrecorded state should fall back to initial, got %s err=%v", p, err)
	}

	if err := foreground.Seed(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := background.Seed(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if p, _ := background.Permission(ctx); p != PermissionDefault {
		t.Fatalf("first seed should win, got %s", p)
	}

	tests := []Permission{PermissionGranted, PermissionDenied, PermissionDefault}
	for _, want := range tests {
		if err := foreground.Set(ctx, want); err != nil {
			t.Fatalf("set %s failed: %v", want, err)
		}
		if p, err := background.Permission(ctx); err != nil || p != want {
			t.Fatalf("other gate sees %s (err=%v), want %s", p, err, want)
		}
	}
}

func TestSharedPermissionGate_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("store failure", func(t *testing.T) {
		store := &memoryPermissionStore{err: db.StorageError("get permission", errors.New("timeout"))}
		g := NewSharedPermissionGate(store, PermissionGranted)
		if _, err := g.Permission(ctx); !errors.Is(err, db.ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}
		if err := g.Require(ctx); errors.Is(err, ErrPermission) || err == nil {
			t.Fatalf("unreadable state must not look like a denial, got %v", err)
		}
	})

	t.Run("corrupt state", func(t *testing.T) {
		g := NewSharedPermissionGate(&memoryPermissionStore{state: "maybe"}, PermissionGranted)
		if _, err := g.Permission(ctx); !errors.Is(err, db.ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}
	})
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lalithlochan/vigil/internal/db"
)

// ErrPermission is returned when notification permission is not granted.
var ErrPermission = errors.New("notification permission not granted")

// Permission is the platform notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// ParsePermission accepts "granted", "denied" or "default". An empty string
// is treated as "default".
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionGranted, PermissionDenied, PermissionDefault:
		return p, nil
	case "":
		return PermissionDefault, nil
	default:
		return "", fmt.Errorf("unknown permission state %q", s)
	}
}

// PermissionSource reports the current permission state.
type PermissionSource interface {
	Permission(ctx context.Context) (Permission, error)
}

// PermissionGate holds the permission state. A gate built with
// NewSharedPermissionGate reads and writes it through a store shared by
// every process; NewPermissionGate keeps it in memory. Both are safe for
// concurrent use.
type PermissionGate struct {
	store db.PermissionStore
	// fallback applies while the store has no state recorded.
	fallback Permission
	state    atomic.Value
}

// NewPermissionGate returns a process-local gate.
func NewPermissionGate(p Permission) *PermissionGate {
	g := &PermissionGate{fallback: p}
	g.state.Store(p)
	return g
}

// NewSharedPermissionGate returns a gate backed by store. initial is reported
// until a state is recorded.
func NewSharedPermissionGate(store db.PermissionStore, initial Permission) *PermissionGate {
	g := NewPermissionGate(initial)
	g.store = store
	return g
}

// Permission returns the current state. A shared gate fails with a storage
// error when the store cannot be read.
func (g *PermissionGate) Permission(ctx context.Context) (Permission, error) {
	if g.store == nil {
		return g.state.Load().(Permission), nil
	}

	raw, err := g.store.GetPermission(ctx)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return g.fallback, nil
	}
	p, err := ParsePermission(raw)
	if err != nil {
		return "", db.StorageError("decode permission", err)
	}
	return p, nil
}

// Set replaces the permission state.
func (g *PermissionGate) Set(ctx context.Context, p Permission) error {
	if g.store == nil {
		g.state.Store(p)
		return nil
	}
	return g.store.SetPermission(ctx, string(p))
}

// Seed records the initial state in the shared store unless another process
// already recorded one.
func (g *PermissionGate) Seed(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	return g.store.SeedPermission(ctx, string(g.fallback))
}

// Require returns ErrPermission unless the state is granted.
func (g *PermissionGate) Require(ctx context.Context) error {
	p, err := g.Permission(ctx)
	if err != nil {
		return err
	}
	if p != PermissionGranted {
		return fmt.Errorf("%w: %s", ErrPermission, p)
	}
	return nil
}

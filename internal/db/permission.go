package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PermissionStore keeps the platform notification permission. Both processes
// read it from the same store so a grant or revoke made through the
// foreground gates background sweeps too. An empty state means nothing has
// been recorded yet.
type PermissionStore interface {
	GetPermission(ctx context.Context) (string, error)
	SetPermission(ctx context.Context, state string) error
	// SeedPermission records state only when nothing is recorded yet.
	SeedPermission(ctx context.Context, state string) error
}

var _ PermissionStore = (*Repository)(nil)

// GetPermission returns the recorded permission state.
func (r *Repository) GetPermission(ctx context.Context) (string, error) {
	var state string
	err := r.db.Pool().QueryRow(ctx, `SELECT state FROM notification_permission WHERE id = 1`).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", StorageError("get permission", err)
	}
	return state, nil
}

// SetPermission overwrites the recorded permission state.
func (r *Repository) SetPermission(ctx context.Context, state string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO notification_permission (id, state, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, state)
	if err != nil {
		return StorageError("set permission", err)
	}

	r.logger.Info("notification permission stored", zap.String("state", state))
	return nil
}

// SeedPermission records state unless a state is already stored.
func (r *Repository) SeedPermission(ctx context.Context, state string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO notification_permission (id, state, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO NOTHING
	`, state)
	if err != nil {
		return StorageError("seed permission", err)
	}
	return nil
}

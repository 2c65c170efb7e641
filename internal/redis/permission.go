package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

var _ db.PermissionStore = (*Store)(nil)

func (s *Store) permissionKey() string { return s.client.key("permission") }

// GetPermission returns the recorded permission state, or "" if none is.
func (s *Store) GetPermission(ctx context.Context) (string, error) {
	state, err := s.client.rdb.Get(ctx, s.permissionKey()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", db.StorageError("get permission", err)
	}
	return state, nil
}

// SetPermission overwrites the recorded permission state.
func (s *Store) SetPermission(ctx context.Context, state string) error {
	if err := s.client.rdb.Set(ctx, s.permissionKey(), state, 0).Err(); err != nil {
		return db.StorageError("set permission", err)
	}
	s.logger.Info("notification permission stored", zap.String("state", state))
	return nil
}

// SeedPermission records state with SETNX so an existing state wins.
func (s *Store) SeedPermission(ctx context.Context, state string) error {
	if err := s.client.rdb.SetNX(ctx, s.permissionKey(), state, 0).Err(); err != nil {
		return db.StorageError("seed permission", err)
	}
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

// Store keeps the schedule in Redis.
//
// Layout under the client prefix:
//
//	notification:<id>   JSON record
//	notifications       set of every id
//	type:<type>         set of ids per notification type
//	pending             sorted set of unsent ids scored by schedule time (unix ms)
//
// Index entries that outlive their record are skipped on read.
type Store struct {
	client *Client
	logger *zap.Logger
}

// NewStore creates a schedule store on top of client.
func NewStore(client *Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

var _ db.Store = (*Store)(nil)

func (s *Store) recordKey(id string) string { return s.client.key("notification", id) }
func (s *Store) allKey() string             { return s.client.key("notifications") }
func (s *Store) pendingKey() string         { return s.client.key("pending") }
func (s *Store) typeKey(t db.NotificationType) string {
	return s.client.key("type", string(t))
}

// Put upserts n and its index entries in one MULTI/EXEC block.
func (s *Store) Put(ctx context.Context, n *db.ScheduledNotification) error {
	if n.ID == "" {
		return db.StorageError("put", errors.New("notification id is empty"))
	}

	body, err := json.Marshal(n)
	if err != nil {
		return db.StorageError("marshal notification", err)
	}

	prev, err := s.get(ctx, n.ID)
	if err != nil {
		return err
	}

	_, err = s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(n.ID), body, 0)
		pipe.SAdd(ctx, s.allKey(), n.ID)
		if prev != nil && prev.Type != n.Type {
			pipe.SRem(ctx, s.typeKey(prev.Type), n.ID)
		}
		pipe.SAdd(ctx, s.typeKey(n.Type), n.ID)
		if n.Sent {
			pipe.ZRem(ctx, s.pendingKey(), n.ID)
		} else {
			pipe.ZAdd(ctx, s.pendingKey(), redis.Z{
				Score:  float64(n.ScheduleTime.UnixMilli()),
				Member: n.ID,
			})
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to put scheduled notification",
			zap.Error(err),
			zap.String("notification_id", n.ID),
		)
		return db.StorageError("put notification", err)
	}

	s.logger.Debug("scheduled notification stored",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
		zap.Time("schedule_time", n.ScheduleTime),
		zap.Bool("sent", n.Sent),
	)

	return nil
}

// GetAll returns every stored entry.
func (s *Store) GetAll(ctx context.Context) ([]*db.ScheduledNotification, error) {
	ids, err := s.client.rdb.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, db.StorageError("list notification ids", err)
	}
	return s.load(ctx, ids, nil)
}

// GetByType returns the entries of type t.
func (s *Store) GetByType(ctx context.Context, t db.NotificationType) ([]*db.ScheduledNotification, error) {
	ids, err := s.client.rdb.SMembers(ctx, s.typeKey(t)).Result()
	if err != nil {
		return nil, db.StorageError("list notification ids by type", err)
	}
	return s.load(ctx, ids, func(n *db.ScheduledNotification) bool { return n.Type == t })
}

// GetPending returns unsent entries, soonest first.
func (s *Store) GetPending(ctx context.Context) ([]*db.ScheduledNotification, error) {
	ids, err := s.client.rdb.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, db.StorageError("list pending ids", err)
	}
	return s.load(ctx, ids, func(n *db.ScheduledNotification) bool { return !n.Sent })
}

// Delete removes the entry and its index entries. Missing entries are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	prev, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.allKey(), id)
		pipe.ZRem(ctx, s.pendingKey(), id)
		if prev != nil {
			pipe.SRem(ctx, s.typeKey(prev.Type), id)
		}
		return nil
	})
	if err != nil {
		return db.StorageError("delete notification", err)
	}
	return nil
}

// DeleteByType fetches the entries of type t and deletes them one by one.
func (s *Store) DeleteByType(ctx context.Context, t db.NotificationType) error {
	ids, err := s.client.rdb.SMembers(ctx, s.typeKey(t)).Result()
	if err != nil {
		return db.StorageError("list notification ids by type", err)
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}

	s.logger.Info("scheduled notifications deleted",
		zap.String("type", string(t)),
		zap.Int("count", len(ids)),
	)

	return nil
}

func (s *Store) get(ctx context.Context, id string) (*db.ScheduledNotification, error) {
	val, err := s.client.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, db.StorageError("get notification", err)
	}

	var n db.ScheduledNotification
	if err := json.Unmarshal(val, &n); err != nil {
		return nil, db.StorageError("decode notification", err)
	}
	return &n, nil
}

func (s *Store) load(ctx context.Context, ids []string, keep func(*db.ScheduledNotification) bool) ([]*db.ScheduledNotification, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}

	vals, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, db.StorageError("load notifications", err)
	}

	out := make([]*db.ScheduledNotification, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// record deleted after the index was read
			continue
		}

		var n db.ScheduledNotification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			s.logger.Warn("skipping undecodable notification",
				zap.String("notification_id", ids[i]),
				zap.Error(err),
			)
			continue
		}
		if keep != nil && !keep(&n) {
			continue
		}
		out = append(out, &n)
	}

	return out, nil
}

// String identifies the backend in logs.
func (s *Store) String() string {
	return fmt.Sprintf("redis(%s)", s.client.prefix)
}

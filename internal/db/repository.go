package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository is the PostgreSQL implementation of Store.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a schedule repository on top of db
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

var _ Store = (*Repository)(nil)

const selectColumns = `
	id, type, title, body, schedule_time, tag, require_interaction,
	sent, sent_at, created_at, data, settings
`

// Put upserts n by ID. An existing row is overwritten in full.
func (r *Repository) Put(ctx context.Context, n *ScheduledNotification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return StorageError("marshal data", err)
	}
	settings, err := json.Marshal(n.Settings)
	if err != nil {
		return StorageError("marshal settings", err)
	}

	query := `
		INSERT INTO scheduled_notifications (
			id, type, title, body, schedule_time, tag, require_interaction,
			sent, sent_at, created_at, data, settings
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			schedule_time = EXCLUDED.schedule_time,
			tag = EXCLUDED.tag,
			require_interaction = EXCLUDED.require_interaction,
			sent = EXCLUDED.sent,
			sent_at = EXCLUDED.sent_at,
			created_at = EXCLUDED.created_at,
			data = EXCLUDED.data,
			settings = EXCLUDED.settings
	`

	_, err = r.db.Pool().Exec(ctx, query,
		n.ID,
		string(n.Type),
		n.Title,
		n.Body,
		n.ScheduleTime,
		n.Tag,
		n.RequireInteraction,
		n.Sent,
		n.SentAt,
		n.CreatedAt,
		data,
		settings,
	)
	if err != nil {
		r.logger.Error("failed to put scheduled notification",
			zap.Error(err),
			zap.String("notification_id", n.ID),
		)
		return StorageError("upsert notification", err)
	}

	r.logger.Debug("scheduled notification stored",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
		zap.Time("schedule_time", n.ScheduleTime),
		zap.Bool("sent", n.Sent),
	)

	return nil
}

// GetAll returns every stored entry.
func (r *Repository) GetAll(ctx context.Context) ([]*ScheduledNotification, error) {
	return r.query(ctx, "SELECT"+selectColumns+"FROM scheduled_notifications ORDER BY schedule_time ASC")
}

// GetByType returns the entries of type t.
func (r *Repository) GetByType(ctx context.Context, t NotificationType) ([]*ScheduledNotification, error) {
	return r.query(ctx,
		"SELECT"+selectColumns+"FROM scheduled_notifications WHERE type = $1 ORDER BY schedule_time ASC",
		string(t),
	)
}

// GetPending returns the entries that have not been displayed yet.
func (r *Repository) GetPending(ctx context.Context) ([]*ScheduledNotification, error) {
	return r.query(ctx,
		"SELECT"+selectColumns+"FROM scheduled_notifications WHERE sent = FALSE ORDER BY schedule_time ASC",
	)
}

// Delete removes the entry with the given ID. Deleting a missing entry is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM scheduled_notifications WHERE id = $1`, id); err != nil {
		return StorageError("delete notification", err)
	}
	return nil
}

// DeleteByType removes every entry of type t in a single statement.
func (r *Repository) DeleteByType(ctx context.Context, t NotificationType) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM scheduled_notifications WHERE type = $1`, string(t))
	if err != nil {
		return StorageError("delete notifications by type", err)
	}

	r.logger.Info("scheduled notifications deleted",
		zap.String("type", string(t)),
		zap.Int64("count", result.RowsAffected()),
	)

	return nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*ScheduledNotification, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, StorageError("query notifications", err)
	}
	defer rows.Close()

	var out []*ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, StorageError("scan notification", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, StorageError("iterate rows", err)
	}

	return out, nil
}

func scanNotification(row pgx.Row) (*ScheduledNotification, error) {
	var (
		n        ScheduledNotification
		typ      string
		sentAt   *time.Time
		data     []byte
		settings []byte
	)

	err := row.Scan(
		&n.ID,
		&typ,
		&n.Title,
		&n.Body,
		&n.ScheduleTime,
		&n.Tag,
		&n.RequireInteraction,
		&n.Sent,
		&sentAt,
		&n.CreatedAt,
		&data,
		&settings,
	)
	if err != nil {
		return nil, err
	}

	n.Type = NotificationType(typ)
	n.SentAt = sentAt

	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, err
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &n.Settings); err != nil {
			return nil, err
		}
	}

	return &n, nil
}

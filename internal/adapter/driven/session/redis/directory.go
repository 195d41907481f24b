package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Wyydra/rendezvous/internal/config"
	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// Redis key patterns:
// session:{session_id}    HASH           - session record
//   - status: created | live | ended
//   - broadcaster_id: connection id of the current broadcaster
//   - started_at, ended_at: unix seconds
// sessions:live           SET<session_id> - sessions currently live

const liveSessionsKey = "sessions:live"

func sessionKey(id domain.SessionID) string {
	return fmt.Sprintf("session:%s", id)
}

// Directory is a session directory backed by Redis hashes.
type Directory struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig) (*Directory, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *goredis.Client) *Directory {
	return &Directory{client: client}
}

// Exists reports whether the session has a record that has not ended.
func (d *Directory) Exists(ctx context.Context, id domain.SessionID) (bool, error) {
	status, err := d.client.HGet(ctx, sessionKey(id), "status").Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session %s: %w", id, err)
	}
	return domain.SessionStatus(status) != domain.SessionEnded, nil
}

func (d *Directory) MarkLive(ctx context.Context, id domain.SessionID, broadcaster domain.ConnectionID) error {
	key := sessionKey(id)
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(domain.SessionLive),
		"broadcaster_id", broadcaster.String(),
		"started_at", time.Now().Unix(),
	)
	pipe.HDel(ctx, key, "ended_at")
	pipe.SAdd(ctx, liveSessionsKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark session %s live: %w", id, err)
	}
	return nil
}

func (d *Directory) MarkEnded(ctx context.Context, id domain.SessionID) error {
	key := sessionKey(id)
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("mark session %s ended: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(domain.SessionEnded),
		"ended_at", time.Now().Unix(),
	)
	pipe.SRem(ctx, liveSessionsKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark session %s ended: %w", id, err)
	}
	return nil
}

func (d *Directory) Get(ctx context.Context, id domain.SessionID) (domain.SessionRecord, error) {
	fields, err := d.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}

	rec := domain.SessionRecord{
		ID:            id,
		Status:        domain.SessionStatus(fields["status"]),
		BroadcasterID: domain.ConnectionID(fields["broadcaster_id"]),
		StartedAt:     parseUnix(fields["started_at"]),
		EndedAt:       parseUnix(fields["ended_at"]),
	}
	if rec.Status == "" {
		rec.Status = domain.SessionCreated
	}
	return rec, nil
}

func (d *Directory) Close() error {
	return d.client.Close()
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

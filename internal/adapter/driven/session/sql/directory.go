package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// sessionModel is the GORM model for the sessions table. Rows are created
// by whatever system schedules sessions; this service only flips status.
type sessionModel struct {
	ID            string `gorm:"type:varchar(64);primaryKey"`
	Title         string `gorm:"type:varchar(200)"`
	Status        string `gorm:"type:varchar(20);index;not null;default:'created'"`
	BroadcasterID string `gorm:"type:varchar(64)"`
	StartedAt     *time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (sessionModel) TableName() string {
	return "sessions"
}

func (m *sessionModel) toDomain() domain.SessionRecord {
	rec := domain.SessionRecord{
		ID:            domain.SessionID(m.ID),
		Status:        domain.SessionStatus(m.Status),
		BroadcasterID: domain.ConnectionID(m.BroadcasterID),
	}
	if m.StartedAt != nil {
		rec.StartedAt = *m.StartedAt
	}
	if m.EndedAt != nil {
		rec.EndedAt = *m.EndedAt
	}
	return rec
}

// Directory is a session directory backed by a SQL table.
type Directory struct {
	db *gorm.DB
}

// New wraps db, creating or updating the sessions table when migrate is set.
func New(db *gorm.DB, migrate bool) (*Directory, error) {
	if migrate {
		if err := db.AutoMigrate(&sessionModel{}); err != nil {
			return nil, fmt.Errorf("migrate sessions table: %w", err)
		}
	}
	return &Directory{db: db}, nil
}

func (d *Directory) Exists(ctx context.Context, id domain.SessionID) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ? AND status <> ?", id.String(), string(domain.SessionEnded)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count session %s: %w", id, err)
	}
	return n > 0, nil
}

func (d *Directory) MarkLive(ctx context.Context, id domain.SessionID, broadcaster domain.ConnectionID) error {
	return d.update(ctx, id, map[string]any{
		"status":         string(domain.SessionLive),
		"broadcaster_id": broadcaster.String(),
		"started_at":     time.Now().UTC(),
		"ended_at":       nil,
	})
}

func (d *Directory) MarkEnded(ctx context.Context, id domain.SessionID) error {
	return d.update(ctx, id, map[string]any{
		"status":   string(domain.SessionEnded),
		"ended_at": time.Now().UTC(),
	})
}

func (d *Directory) update(ctx context.Context, id domain.SessionID, fields map[string]any) error {
	result := d.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", id.String()).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update session %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

func (d *Directory) Get(ctx context.Context, id domain.SessionID) (domain.SessionRecord, error) {
	var m sessionModel
	err := d.db.WithContext(ctx).First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return m.toDomain(), nil
}

func (d *Directory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/persistence/sqlite/model"
	"emojivote/internal/ports"
)

const expiryLayout = time.RFC3339Nano

type SQLiteCache struct {
	db  *gorm.DB
	now func() time.Time
}

var _ ports.Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(db *gorm.DB) *SQLiteCache {
	return &SQLiteCache{db: db, now: time.Now}
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	var row model.KV
	if err := c.db.WithContext(ctx).Where("key = ?", trimmedKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query cache by key")
	}

	if row.ExpiresAt != nil {
		expiresAt, err := time.Parse(expiryLayout, *row.ExpiresAt)
		if err != nil {
			return "", false, errs.Wrapf(err, "parse expiry of cache key %q", trimmedKey)
		}
		if !c.now().UTC().Before(expiresAt) {
			return "", false, nil
		}
	}

	return row.Value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	row := c.newRow(trimmedKey, value, ttl)
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"expires_at": row.ExpiresAt,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert cache key")
	}

	return nil
}

// Claim inserts the key when it is absent. An expired row is taken over with a
// compare-and-swap on the expiry that was read, so only one caller wins it.
func (c *SQLiteCache) Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return false, err
	}

	row := c.newRow(trimmedKey, value, ttl)
	inserted := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if inserted.Error != nil {
		return false, errs.Wrap(inserted.Error, "insert cache key")
	}
	if inserted.RowsAffected == 1 {
		return true, nil
	}

	var current model.KV
	if err := c.db.WithContext(ctx).Where("key = ?", trimmedKey).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between the insert and the read; let the caller retry.
			return false, nil
		}
		return false, errs.Wrap(err, "query cache by key")
	}
	if current.ExpiresAt == nil {
		return false, nil
	}
	expiresAt, err := time.Parse(expiryLayout, *current.ExpiresAt)
	if err != nil {
		return false, errs.Wrapf(err, "parse expiry of cache key %q", trimmedKey)
	}
	if c.now().UTC().Before(expiresAt) {
		return false, nil
	}

	updated := c.db.WithContext(ctx).Model(&model.KV{}).
		Where("key = ? AND expires_at = ?", trimmedKey, *current.ExpiresAt).
		Updates(map[string]any{
			"value":      row.Value,
			"expires_at": row.ExpiresAt,
			"updated_at": row.UpdatedAt,
		})
	if updated.Error != nil {
		return false, errs.Wrap(updated.Error, "take over expired cache key")
	}
	return updated.RowsAffected == 1, nil
}

func (c *SQLiteCache) newRow(key string, value string, ttl time.Duration) model.KV {
	now := c.now().UTC()
	row := model.KV{
		Key:       key,
		Value:     value,
		UpdatedAt: now.Format(expiryLayout),
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl).Format(expiryLayout)
		row.ExpiresAt = &expiresAt
	}
	return row
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	if err := c.db.WithContext(ctx).Where("key = ?", trimmedKey).Delete(&model.KV{}).Error; err != nil {
		return errs.Wrap(err, "delete cache key")
	}
	return nil
}

func checkKey(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return "", errors.New("key is required")
	}
	return trimmedKey, nil
}

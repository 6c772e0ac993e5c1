package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/persistence/sqlite/model"
	"emojivote/internal/ports"
)

// ImageStore is the sqlite-backed ContentStore. Images are content addressed,
// so storing the same bytes twice is a no-op.
type ImageStore struct {
	db *gorm.DB
}

var _ ports.ContentStore = (*ImageStore)(nil)

func NewImageStore(db *gorm.DB) *ImageStore {
	return &ImageStore{db: db}
}

func (s *ImageStore) Put(ctx context.Context, image domainemoji.Image) (string, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return "", err
	}
	if len(image.Data) == 0 {
		return "", errors.New("image data is required")
	}

	sum := sha1.Sum(image.Data)
	key := hex.EncodeToString(sum[:])

	row := model.Image{
		SHA1:        key,
		ContentType: strings.TrimSpace(image.ContentType),
		Data:        image.Data,
		CreatedAt:   formatTime(time.Now()),
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return "", errs.Wrap(err, "insert image")
	}
	return key, nil
}

func (s *ImageStore) Get(ctx context.Context, key string) (domainemoji.Image, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return domainemoji.Image{}, err
	}

	var row model.Image
	if err := db.Where("sha1 = ?", strings.ToLower(strings.TrimSpace(key))).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainemoji.Image{}, fmt.Errorf("%w: %s", domainemoji.ErrImageNotFound, key)
		}
		return domainemoji.Image{}, errs.Wrap(err, "query image")
	}
	return domainemoji.Image{
		SHA1:        row.SHA1,
		ContentType: row.ContentType,
		Data:        row.Data,
	}, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marselk/tgbridge/internal/models"
)

// MediaRepository handles deduplicated media file records.
type MediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new media repository.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// GetByHash returns the media file with the given content hash, nil when absent.
func (r *MediaRepository) GetByHash(ctx context.Context, hash string) (*models.MediaFile, error) {
	var m models.MediaFile
	err := r.db.WithContext(ctx).First(&m, "content_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media by hash: %w", err)
	}
	return &m, nil
}

// Create inserts a new media file record.
func (r *MediaRepository) Create(ctx context.Context, m *models.MediaFile) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	return nil
}

// IncrementRef links one more task to an existing content hash.
func (r *MediaRepository) IncrementRef(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", id).
		Update("ref_count", gorm.Expr("ref_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment media ref: %w", err)
	}
	return nil
}

// SetArchived records where the file ended up after organization.
func (r *MediaRepository) SetArchived(ctx context.Context, id uuid.UUID, archivedPath, remotePath string) error {
	err := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"archived_path":   archivedPath,
			"remote_path":     remotePath,
			"temp_path":       "",
			"organize_failed": false,
			"organize_error":  "",
		}).Error
	if err != nil {
		return fmt.Errorf("set media archived: %w", err)
	}
	return nil
}

// FlagOrganizeFailed marks archival as failed without failing the download.
func (r *MediaRepository) FlagOrganizeFailed(ctx context.Context, id uuid.UUID, reason string) error {
	err := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", id).
		Updates(map[string]any{"organize_failed": true, "organize_error": reason}).Error
	if err != nil {
		return fmt.Errorf("flag organize failed: %w", err)
	}
	return nil
}

// SetMetadata stores extracted metadata, or the extraction error.
func (r *MediaRepository) SetMetadata(ctx context.Context, id uuid.UUID, width, height, duration int, mime, metaErr string) error {
	err := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"width":            width,
			"height":           height,
			"duration_seconds": duration,
			"mime_type":        mime,
			"metadata_error":   metaErr,
		}).Error
	if err != nil {
		return fmt.Errorf("set media metadata: %w", err)
	}
	return nil
}

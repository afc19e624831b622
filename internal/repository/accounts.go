// Package repository provides data access for the bridge entities.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marselk/tgbridge/internal/models"
)

// AccountsRepository handles accounts table operations.
type AccountsRepository struct {
	db *gorm.DB
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *gorm.DB) *AccountsRepository {
	return &AccountsRepository{db: db}
}

// Create inserts a new account.
func (r *AccountsRepository) Create(ctx context.Context, a *models.Account) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetByID returns an account by id, nil when absent.
func (r *AccountsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return &a, nil
}

// GetByName returns an account by its unique name, nil when absent.
func (r *AccountsRepository) GetByName(ctx context.Context, name string) (*models.Account, error) {
	var a models.Account
	err := r.db.WithContext(ctx).First(&a, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by name: %w", err)
	}
	return &a, nil
}

// ListEnabled returns all enabled accounts.
func (r *AccountsRepository) ListEnabled(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	return accounts, nil
}

// PublishStatus stores a read-only status snapshot for an account.
func (r *AccountsRepository) PublishStatus(ctx context.Context, id uuid.UUID, state, lastError string) error {
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": state, "last_error": lastError}).Error
	if err != nil {
		return fmt.Errorf("publish account status: %w", err)
	}
	return nil
}

// SaveSessionString persists refreshed session credentials.
func (r *AccountsRepository) SaveSessionString(ctx context.Context, id uuid.UUID, session string) error {
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("session_string", session).Error
	if err != nil {
		return fmt.Errorf("save session string: %w", err)
	}
	return nil
}

// SetMonitoredChats replaces the stored monitored chat set.
func (r *AccountsRepository) SetMonitoredChats(ctx context.Context, id uuid.UUID, chats []int64) error {
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(&models.Account{MonitoredChats: chats}).Error
	if err != nil {
		return fmt.Errorf("set monitored chats: %w", err)
	}
	return nil
}

// Delete removes an account row. The session credentials live in the row, so
// deletion discards them as well.
func (r *AccountsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Account{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

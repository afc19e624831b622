package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marselk/tgbridge/internal/models"
)

// RulesRepository handles forward and monitor rule operations.
type RulesRepository struct {
	db *gorm.DB
}

// NewRulesRepository creates a new rules repository.
func NewRulesRepository(db *gorm.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

// CreateForward inserts a forward rule.
func (r *RulesRepository) CreateForward(ctx context.Context, rule *models.ForwardRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("create forward rule: %w", err)
	}
	return nil
}

// CreateMonitor inserts a monitor rule.
func (r *RulesRepository) CreateMonitor(ctx context.Context, rule *models.MonitorRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("create monitor rule: %w", err)
	}
	return nil
}

// EnabledForwardRules returns enabled forward rules whose source chat matches.
func (r *RulesRepository) EnabledForwardRules(ctx context.Context, accountID uuid.UUID, sourceChat int64) ([]models.ForwardRule, error) {
	var rules []models.ForwardRule
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND source_chat = ? AND enabled = ?", accountID, sourceChat, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load forward rules: %w", err)
	}
	return rules, nil
}

// ActiveMonitorRules returns all active monitor rules for an account. Chat
// membership is a serialized list, so the per-chat filter happens in memory.
func (r *RulesRepository) ActiveMonitorRules(ctx context.Context, accountID uuid.UUID) ([]models.MonitorRule, error) {
	var rules []models.MonitorRule
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND active = ?", accountID, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load monitor rules: %w", err)
	}
	return rules, nil
}

// GetMonitor returns a monitor rule by id, nil when absent.
func (r *RulesRepository) GetMonitor(ctx context.Context, id uuid.UUID) (*models.MonitorRule, error) {
	var rule models.MonitorRule
	err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor rule: %w", err)
	}
	return &rule, nil
}

// SetMonitorActive hot-toggles a monitor rule. In-flight tasks created under
// the rule are untouched.
func (r *RulesRepository) SetMonitorActive(ctx context.Context, id uuid.UUID, active bool) error {
	err := r.db.WithContext(ctx).Model(&models.MonitorRule{}).
		Where("id = ?", id).
		Update("active", active).Error
	if err != nil {
		return fmt.Errorf("toggle monitor rule: %w", err)
	}
	return nil
}

// IncrementForwardFailures bumps a forward rule's failure counter.
func (r *RulesRepository) IncrementForwardFailures(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.ForwardRule{}).
		Where("id = ?", id).
		Update("failure_count", gorm.Expr("failure_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment forward failures: %w", err)
	}
	return nil
}

// IncrementMonitorFailures bumps a monitor rule's failure counter.
func (r *RulesRepository) IncrementMonitorFailures(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.MonitorRule{}).
		Where("id = ?", id).
		Update("failure_count", gorm.Expr("failure_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment monitor failures: %w", err)
	}
	return nil
}

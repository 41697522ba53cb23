package taskstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// taskRecord is the relational row backing one task.
type taskRecord struct {
	WorkflowID  string    `gorm:"primaryKey;size:64"`
	Status      string    `gorm:"size:32;not null;index"`
	CurrentStep string    `gorm:"size:64;not null"`
	Error       string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName implements the GORM table naming convention.
func (taskRecord) TableName() string { return "workflow_tasks" }

// GormStore persists task records in a relational database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates the store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("taskstore: db is required")
	}
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("taskstore: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// UpdateStatus implements Store with an upsert keyed by workflow id.
func (s *GormStore) UpdateStatus(ctx context.Context, workflowID string, status Status, currentStep, errMsg string) error {
	now := time.Now().UTC()
	record := taskRecord{
		WorkflowID:  workflowID,
		Status:      string(status),
		CurrentStep: currentStep,
		Error:       errMsg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workflow_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_step", "error", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("taskstore: upsert %s: %w", workflowID, err)
	}
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, workflowID string) (*Task, error) {
	var record taskRecord
	err := s.db.WithContext(ctx).First(&record, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task not found: %s", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: load %s: %w", workflowID, err)
	}

	return &Task{
		WorkflowID:  record.WorkflowID,
		Status:      Status(record.Status),
		CurrentStep: record.CurrentStep,
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

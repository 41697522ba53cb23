package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// checkpointRecord is the relational row backing one workflow checkpoint.
type checkpointRecord struct {
	WorkflowID    string    `gorm:"primaryKey;size:64"`
	SchemaVersion int       `gorm:"not null"`
	Revision      int64     `gorm:"not null"`
	SavedAt       time.Time `gorm:"not null"`
	State         []byte    `gorm:"not null"`
}

// TableName implements the GORM table naming convention.
func (checkpointRecord) TableName() string { return "workflow_checkpoints" }

// GormStore persists checkpoints in a relational database through GORM.
// Production deployments use the Postgres driver; tests run on sqlite.
// Optimistic concurrency is a guarded UPDATE on (workflow_id, revision).
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates the store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("checkpoint: db is required")
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("checkpoint: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Save implements Store.
func (s *GormStore) Save(ctx context.Context, env *Envelope) error {
	record := checkpointRecord{
		WorkflowID:    env.WorkflowID,
		SchemaVersion: env.SchemaVersion,
		Revision:      env.Revision,
		SavedAt:       env.SavedAt,
		State:         append([]byte(nil), env.State...),
	}

	if env.Revision == 1 {
		err := s.db.WithContext(ctx).Create(&record).Error
		if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			return errStale(env.WorkflowID, env.Revision)
		}
		if err != nil {
			// Drivers without translated duplicate-key errors still
			// surface the conflict here; treat any insert conflict on
			// the primary key as a stale write.
			var exists int64
			if s.db.WithContext(ctx).Model(&checkpointRecord{}).
				Where("workflow_id = ?", env.WorkflowID).Count(&exists); exists > 0 {
				return errStale(env.WorkflowID, env.Revision)
			}
			return fmt.Errorf("checkpoint: insert: %w", err)
		}
		return nil
	}

	result := s.db.WithContext(ctx).Model(&checkpointRecord{}).
		Where("workflow_id = ? AND revision = ?", env.WorkflowID, env.Revision-1).
		Updates(map[string]any{
			"schema_version": record.SchemaVersion,
			"revision":       record.Revision,
			"saved_at":       record.SavedAt,
			"state":          record.State,
		})
	if result.Error != nil {
		return fmt.Errorf("checkpoint: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errStale(env.WorkflowID, env.Revision)
	}
	return nil
}

// Load implements Store.
func (s *GormStore) Load(ctx context.Context, workflowID string) (*Envelope, bool, error) {
	var record checkpointRecord
	err := s.db.WithContext(ctx).First(&record, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %s: %w", workflowID, err)
	}

	return &Envelope{
		SchemaVersion: record.SchemaVersion,
		WorkflowID:    record.WorkflowID,
		Revision:      record.Revision,
		SavedAt:       record.SavedAt,
		State:         record.State,
	}, true, nil
}

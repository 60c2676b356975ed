package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
)

const (
	maxDLQErrorLength = 1024
	maxDLQNameLength  = 255
)

// DLQRepository stores records that can never be applied.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// Insert writes entry. A record already dead-lettered at the same coordinates
// is left as is. Text columns are cleaned first: a dead letter that Postgres
// refuses would keep its record from ever being acknowledged.
func (r *DLQRepository) Insert(ctx context.Context, entry models.CommandDLQ) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry = cleanDeadLetter(entry)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "topic"}, {Name: "partition"}, {Name: "record_offset"}},
			DoNothing: true,
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("insert command dlq %s/%d/%d: %w", entry.Topic, entry.Partition, entry.Offset, err)
	}
	return nil
}

// List returns the most recent dead letters.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.CommandDLQ, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.CommandDLQ
	if err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteBefore purges dead letters recorded before cutoff.
func (r *DLQRepository) DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.CommandDLQ{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete command dlq before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}

func cleanDeadLetter(entry models.CommandDLQ) models.CommandDLQ {
	entry.Topic = dbpkg.CleanText(entry.Topic, 0)
	if entry.CommandName != nil {
		name := dbpkg.CleanText(*entry.CommandName, maxDLQNameLength)
		entry.CommandName = &name
	}
	if entry.ErrorMessage != nil {
		msg := dbpkg.CleanText(*entry.ErrorMessage, maxDLQErrorLength)
		entry.ErrorMessage = &msg
	}
	return entry
}

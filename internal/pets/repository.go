package pets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/petstore-backend/pkg/db/models"
)

const upsertCategoryQuery = `
INSERT INTO categories (name, created_at)
VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id
`

// Repository persists categories and pets.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// UpsertCategory returns the id of the category called name, creating it when absent.
// Concurrent callers with the same name converge on one row.
func (r *Repository) UpsertCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	res := r.db.WithContext(ctx).Raw(upsertCategoryQuery, name, time.Now().UTC()).Scan(&id)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert category %q: %w", name, res.Error)
	}
	if id == 0 {
		return 0, fmt.Errorf("upsert category %q returned no id", name)
	}
	return id, nil
}

// InsertPetIfAbsent inserts pet unless a row with the same id exists.
// It reports whether a row was written.
func (r *Repository) InsertPetIfAbsent(ctx context.Context, pet *models.Pet) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(pet)
	if res.Error != nil {
		return false, fmt.Errorf("insert pet %s: %w", pet.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AddVaccines links vaccines to the pet, skipping existing pairs.
func (r *Repository) AddVaccines(ctx context.Context, petID uuid.UUID, vaccines []string) error {
	if len(vaccines) == 0 {
		return nil
	}
	rows := make([]models.PetVaccine, 0, len(vaccines))
	for _, vaccine := range vaccines {
		rows = append(rows, models.PetVaccine{PetID: petID, Vaccine: vaccine})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert vaccines for pet %s: %w", petID, err)
	}
	return nil
}

// AddTags links tags to the pet, skipping existing pairs.
func (r *Repository) AddTags(ctx context.Context, petID uuid.UUID, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]models.PetTag, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, models.PetTag{PetID: petID, Tag: tag})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert tags for pet %s: %w", petID, err)
	}
	return nil
}

// FindPet loads a pet by id.
func (r *Repository) FindPet(ctx context.Context, id uuid.UUID) (*models.Pet, error) {
	var pet models.Pet
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&pet).Error; err != nil {
		return nil, err
	}
	return &pet, nil
}

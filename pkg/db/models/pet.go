package models

import (
	"time"

	"github.com/google/uuid"
)

// Pet is keyed by the id of the command that created it.
type Pet struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	DOB        string    `gorm:"column:dob;not null"`
	CategoryID int64     `gorm:"column:category;not null;index"`
	Breed      *string   `gorm:"column:breed"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Pet) TableName() string { return "pets" }

type PetVaccine struct {
	PetID   uuid.UUID `gorm:"column:pet_id;type:uuid;primaryKey"`
	Vaccine string    `gorm:"column:vaccine;primaryKey"`
}

func (PetVaccine) TableName() string { return "pet_vaccines" }

type PetTag struct {
	PetID uuid.UUID `gorm:"column:pet_id;type:uuid;primaryKey"`
	Tag   string    `gorm:"column:tag;primaryKey"`
}

func (PetTag) TableName() string { return "pet_tags" }

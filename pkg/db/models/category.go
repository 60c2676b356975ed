package models

import "time"

// Category is a named pet grouping; names are unique.
type Category struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:ux_categories_name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Category) TableName() string { return "categories" }

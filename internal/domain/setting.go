package domain

import "time"

// Setting is a named JSON value in the key-value settings table.
type Setting struct {
	Key         string    `gorm:"type:text;primaryKey" json:"key"`
	Value       string    `gorm:"type:text" json:"value"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

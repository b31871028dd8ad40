package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Report holds the artifact submitted at the end of an assessment.
type Report struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	InstanceID uint           `gorm:"uniqueIndex;not null" json:"instance_id"`
	Content    datatypes.JSON `gorm:"type:json" json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// InstanceKey returns the owning instance's timer and history key.
func (r *Report) InstanceKey() string {
	return strconv.FormatUint(uint64(r.InstanceID), 10)
}

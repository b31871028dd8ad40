package models

import (
	"strconv"
	"time"
)

// PendingContainerRef is stored in an Instance row between the insert
// that reserves its ID and the update that records the live container.
const PendingContainerRef = "pending"

// Instance is one sandbox bound to a Test and, unless it is an admin
// trial run, a Candidate. A (TestID, CandidateID) pair may only hold a
// single Instance; NULL candidates are exempt from the unique index.
type Instance struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TestID       uint       `gorm:"not null;uniqueIndex:idx_instance_pairing" json:"test_id"`
	CandidateID  *uint      `gorm:"uniqueIndex:idx_instance_pairing" json:"candidate_id,omitempty"`
	ContainerRef string     `gorm:"index;not null" json:"container_ref"`
	Port         int        `gorm:"not null;default:0" json:"port"`
	WorkspaceDir string     `json:"workspace_dir,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Test         *Test      `gorm:"constraint:OnDelete:CASCADE" json:"test,omitempty"`
	Candidate    *Candidate `gorm:"constraint:OnDelete:SET NULL" json:"candidate,omitempty"`
}

// Key returns the identifier used by the timer and chat history stores.
func (i *Instance) Key() string {
	return strconv.FormatUint(uint64(i.ID), 10)
}

// Pending reports whether the container has not been recorded yet.
func (i *Instance) Pending() bool {
	return i.ContainerRef == "" || i.ContainerRef == PendingContainerRef
}

type Instances []*Instance

package models

import "time"

type Candidate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"index" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TestCandidate assigns a Candidate to a Test.
type TestCandidate struct {
	TestID      uint       `gorm:"primaryKey;autoIncrement:false" json:"test_id"`
	CandidateID uint       `gorm:"primaryKey;autoIncrement:false" json:"candidate_id"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

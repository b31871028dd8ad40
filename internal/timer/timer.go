// Package timer tracks phase-scoped deadlines per sandbox instance.
//
// Timers are cached in process memory and mirrored to a Store so they
// survive restarts. The interviewStarted and finalInterviewStarted
// flags mark phase entry and are never cleared, even after the clock
// for the timer has run out.
package timer

import (
	"time"

	"github.com/pkg/errors"
)

// Type distinguishes the phase a timer is counting down.
type Type string

const (
	TypeInitial Type = "initial"
	TypeProject Type = "project"
)

const (
	DefaultInitialDuration = 10 * time.Minute
	DefaultProjectDuration = 60 * time.Minute
)

var (
	ErrMissingInstanceID = errors.New("instance id is required")
	ErrInvalidType       = errors.New("invalid timer type")
)

// ParseType converts a request value into a Type. An empty value is
// treated as TypeInitial.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", TypeInitial, "interview":
		return TypeInitial, nil
	case TypeProject:
		return TypeProject, nil
	default:
		return "", errors.Wrapf(ErrInvalidType, "%q", s)
	}
}

// Timer is the persisted record for one instance.
type Timer struct {
	InstanceID            string    `json:"instanceId"`
	StartedAt             time.Time `json:"startedAt"`
	EndTime               time.Time `json:"endTime"`
	Type                  Type      `json:"timerType"`
	InterviewStarted      bool      `json:"interviewStarted"`
	FinalInterviewStarted bool      `json:"finalInterviewStarted"`
}

// Expired reports whether the clock has run out at now.
func (t *Timer) Expired(now time.Time) bool {
	return !t.EndTime.After(now)
}

// Remaining returns the time left at now, never negative.
func (t *Timer) Remaining(now time.Time) time.Duration {
	if t.Expired(now) {
		return 0
	}
	return t.EndTime.Sub(now)
}

// Status is the externally visible state of an instance's timer.
// Times are reported in Unix milliseconds.
type Status struct {
	TimerStarted          bool   `json:"timerStarted"`
	Expired               bool   `json:"expired,omitempty"`
	EndTime               int64  `json:"endTime,omitempty"`
	InstanceID            string `json:"instanceId"`
	InterviewStarted      bool   `json:"interviewStarted"`
	FinalInterviewStarted bool   `json:"finalInterviewStarted"`
	TimerType             Type   `json:"timerType,omitempty"`
	TimeRemaining         int64  `json:"timeRemaining"`
	Message               string `json:"message"`
}

// Summary is a compact listing entry for live timers.
type Summary struct {
	InstanceID    string `json:"instanceId"`
	TimeRemaining int64  `json:"timeRemaining"`
	EndTime       int64  `json:"endTime"`
}

func defaultDuration(t Type) time.Duration {
	if t == TypeProject {
		return DefaultProjectDuration
	}
	return DefaultInitialDuration
}

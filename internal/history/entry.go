// Package history keeps the append-only chat log for each instance.
//
// Phase changes are recorded in-band as marker entries so a log can be
// replayed after a restart to recover the interview phase.
package history

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MarkerPrefix is the reserved content prefix used by older clients to
// signal a phase change through a system message.
const MarkerPrefix = "PHASE_MARKER: "

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind tags an entry as conversation or as a phase marker.
type Kind string

const (
	KindMessage Kind = "message"
	KindMarker  Kind = "marker"
)

var (
	ErrMissingInstanceID = errors.New("instance id is required")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrEmptyMarker       = errors.New("phase marker has no phase")
)

// Entry is one element of an instance's chat log.
type Entry struct {
	Kind      Kind                   `json:"kind"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Phase     string                 `json:"phase,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// IsMarker reports whether the entry records a phase change.
func (e Entry) IsMarker() bool {
	return e.Kind == KindMarker
}

// Message builds a conversational entry.
func Message(role Role, content string) Entry {
	return Entry{Kind: KindMessage, Role: role, Content: content}
}

// Marker builds a phase-change entry.
func Marker(phase string) Entry {
	return Entry{
		Kind:    KindMarker,
		Role:    RoleSystem,
		Content: MarkerPrefix + phase,
		Phase:   phase,
	}
}

// ParseEntry validates raw input from a client and converts legacy
// prefixed system messages into typed markers.
func ParseEntry(role, content string, metadata map[string]interface{}) (Entry, error) {
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return Entry{}, errors.Wrapf(ErrInvalidRole, "%q", role)
	}

	if r == RoleSystem && strings.HasPrefix(content, MarkerPrefix) {
		phase := strings.TrimSpace(strings.TrimPrefix(content, MarkerPrefix))
		if phase == "" {
			return Entry{}, ErrEmptyMarker
		}
		m := Marker(phase)
		m.Metadata = metadata
		return m, nil
	}

	e := Message(r, content)
	e.Metadata = metadata
	return e, nil
}

// normalize fills in fields older records may be missing.
func normalize(e Entry) Entry {
	if e.Kind == "" {
		if parsed, err := ParseEntry(string(e.Role), e.Content, e.Metadata); err == nil {
			parsed.CreatedAt = e.CreatedAt
			return parsed
		}
		e.Kind = KindMessage
	}
	return e
}

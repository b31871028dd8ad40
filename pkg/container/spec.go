package container

import "path/filepath"

// MountType enumerates supported mount driver types.
type MountType string

const (
	// MountTypeBind represents a bind mount from the host filesystem.
	MountTypeBind MountType = "bind"
)

// Mount describes a filesystem mount to inject into a sandbox.
type Mount struct {
	Type     MountType `json:"type"`
	Source   string    `json:"source"`
	Target   string    `json:"target"`
	ReadOnly bool      `json:"readOnly,omitempty"`
}

// Spec captures the container runtime knobs shared by every engine.
type Spec struct {
	Env     map[string]string `json:"env,omitempty"`
	User    string            `json:"user,omitempty"`
	WorkDir string            `json:"workdir,omitempty"`
	Mounts  []Mount           `json:"mounts,omitempty"`
}

// SetEnv sets an environment variable, skipping empty values.
func (s *Spec) SetEnv(key, value string) {
	if value == "" {
		return
	}
	if s.Env == nil {
		s.Env = make(map[string]string)
	}
	s.Env[key] = value
}

// Bind adds a read-write bind mount of source at target. The source
// is made absolute since runtimes reject relative bind sources.
func (s *Spec) Bind(source, target string) error {
	abs, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	s.Mounts = append(s.Mounts, Mount{Type: MountTypeBind, Source: abs, Target: target})
	return nil
}

// HasEnv reports whether any environment variables are defined.
func (s Spec) HasEnv() bool {
	return len(s.Env) > 0
}

// HasMounts reports whether any mounts are defined.
func (s Spec) HasMounts() bool {
	return len(s.Mounts) > 0
}

package pipeline

import (
	"fmt"
	"strings"
)

// Role is the stage a pool serves. It never changes for a running worker.
type Role int

const (
	RoleSource Role = iota
	RoleTransform
	RoleSink
)

// Roles lists every role in pipeline order
var Roles = []Role{RoleSource, RoleTransform, RoleSink}

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTransform:
		return "transform"
	case RoleSink:
		return "sink"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "source":
		return RoleSource, nil
	case "transform":
		return RoleTransform, nil
	case "sink":
		return RoleSink, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) valid() bool {
	return r >= RoleSource && r <= RoleSink
}

// State is the lifecycle state of a worker
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	case StateCrashed:
		return "CRASHED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for st := StateStarting; st <= StateCrashed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", text)
}

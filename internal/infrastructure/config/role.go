package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRole is returned when a broker role is neither master nor coordinator.
var ErrUnknownRole = errors.New("config: unknown broker role")

// Role selects how a node attaches to the bus.
//
// The zero value is not a valid role; a node must declare one explicitly.
type Role int

const (
	// RoleMaster binds both sockets and acts as the rendezvous point.
	RoleMaster Role = iota + 1

	// RoleCoordinator connects both sockets to a master.
	RoleCoordinator
)

// ParseRole converts a role name to a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "master":
		return RoleMaster, nil
	case "coordinator":
		return RoleCoordinator, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Valid reports whether r is one of the two defined roles.
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleCoordinator
}

// String returns the upper-case role name used in logs.
func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleCoordinator:
		return "COORDINATOR"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(strings.ToLower(r.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so an unknown role
// fails YAML parsing instead of surfacing later at socket setup.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Role) UnmarshalYAML(value *yaml.Node) error {
	return r.UnmarshalText([]byte(value.Value))
}

package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Machines []machineSchema `toml:"machines"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported machines schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type machineSchema struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port,omitempty"`
	Protocol string `toml:"protocol,omitempty"`
	Username string `toml:"username,omitempty"`
	Group    string `toml:"group,omitempty"`
}

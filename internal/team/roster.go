package team

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Roster is a YAML team roster file.
type Roster struct {
	Teams []Descriptor `yaml:"teams"`
}

// LoadRoster reads and validates a YAML roster file. All descriptors are
// validated before any team is returned, so a bad entry rejects the whole
// file rather than registering a partial roster.
func LoadRoster(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}
	if len(roster.Teams) == 0 {
		return nil, fmt.Errorf("roster %s defines no teams", path)
	}

	for i, d := range roster.Teams {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("roster %s team %d (%s): %w", path, i, d.Name, err)
		}
	}

	return roster.Teams, nil
}

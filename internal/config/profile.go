package config

import (
	"fmt"
	"sort"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Swarm profiles.
const (
	ProfileFast  = "fast"
	ProfileDeep  = "deep"
	ProfileAudit = "audit"
)

// Profile is a named bundle of swarm defaults.
type Profile struct {
	Workers   int
	Isolation models.Isolation
	RunTests  bool
}

var profiles = map[string]Profile{
	ProfileFast:  {Workers: 4, Isolation: models.IsolationNone},
	ProfileDeep:  {Workers: 2, Isolation: models.IsolationSandbox},
	ProfileAudit: {Workers: 2, Isolation: models.IsolationWorktree, RunTests: true},
}

// ProfileNames lists the known profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ApplyProfile overwrites the swarm worker count, isolation and test toggle
// with the profile's defaults.
func (c *Config) ApplyProfile(name string) error {
	p, ok := profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q: must be one of %v", name, ProfileNames())
	}
	c.Swarm.Profile = name
	c.Swarm.Workers = p.Workers
	c.Swarm.Isolation = string(p.Isolation)
	c.Swarm.RunTests = p.RunTests
	return nil
}

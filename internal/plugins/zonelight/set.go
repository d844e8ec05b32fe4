package zonelight

import (
	"context"
	"fmt"

	"github.com/alxld/new-zone-light/internal/zone"
)

// Set holds the managers of every configured zone
type Set struct {
	managers []*Manager
	byName   map[string]*Manager
}

// NewSet builds a manager per zone. buttonMapPath gives the default button
// map location of a zone.
func NewSet(cfg *Config, buttonMapPath func(zoneName string) string, deps Deps) (*Set, error) {
	s := &Set{byName: make(map[string]*Manager, len(cfg.Zones))}
	for _, zc := range cfg.Zones {
		m, err := NewManager(zc, buttonMapPath(zc.Name), deps)
		if err != nil {
			return nil, err
		}
		s.managers = append(s.managers, m)
		s.byName[zc.Name] = m
	}
	return s, nil
}

// Start starts every zone. On failure the zones already started are stopped.
func (s *Set) Start(ctx context.Context) error {
	for i, m := range s.managers {
		if err := m.Start(); err != nil {
			for _, started := range s.managers[:i+1] {
				started.Stop(ctx)
			}
			return fmt.Errorf("failed to start zone %s: %w", m.Name(), err)
		}
	}
	return nil
}

// Stop stops every zone
func (s *Set) Stop(ctx context.Context) {
	for _, m := range s.managers {
		m.Stop(ctx)
	}
}

// Runner returns the runner of a zone
func (s *Set) Runner(name string) (*zone.Runner, bool) {
	m, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return m.Runner(), true
}

// Names returns the zone names in configuration order
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.managers))
	for _, m := range s.managers {
		names = append(names, m.Name())
	}
	return names
}

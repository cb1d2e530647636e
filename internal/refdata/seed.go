package refdata

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/govpulse/internal/domain"
)

// Seed is the on-disk reference data format. It also serves as a Loader
// for running without a database.
type Seed struct {
	Schemes    []domain.Scheme         `yaml:"schemes"`
	EventTypes []domain.EventType      `yaml:"event_types"`
	Geography  []domain.GeographyEntry `yaml:"geography"`
}

// ParseSeed decodes and validates a seed document
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSeedFile reads a seed document from disk
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// Validate checks codes are unique and every resolvable geography entry
// yields a well-formed hierarchy
func (s *Seed) Validate() error {
	codes := map[string]bool{}
	for _, sc := range s.Schemes {
		if sc.Code == "" || sc.Name == "" {
			return fmt.Errorf("scheme %q: code and name are required", sc.Code)
		}
		if codes["scheme:"+sc.Code] {
			return fmt.Errorf("duplicate scheme code %q", sc.Code)
		}
		codes["scheme:"+sc.Code] = true
	}
	for _, et := range s.EventTypes {
		if et.Code == "" {
			return fmt.Errorf("event type %q: code is required", et.Name)
		}
		if codes["event:"+et.Code] {
			return fmt.Errorf("duplicate event type code %q", et.Code)
		}
		codes["event:"+et.Code] = true
	}
	for _, e := range s.Geography {
		if e.ID == "" || e.Name == "" || e.District == "" {
			return fmt.Errorf("geography entry %q: id, name and district are required", e.ID)
		}
		if codes["geo:"+e.ID] {
			return fmt.Errorf("duplicate geography id %q", e.ID)
		}
		codes["geo:"+e.ID] = true
		if e.Kind.Resolvable() {
			if _, err := domain.NewGeoHierarchy(e, nil, 1, domain.MatchExact); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
	}
	return nil
}

func (s *Seed) LoadSchemes(ctx context.Context) ([]domain.Scheme, error) {
	return append([]domain.Scheme(nil), s.Schemes...), nil
}

func (s *Seed) LoadEventTypes(ctx context.Context) ([]domain.EventType, error) {
	return append([]domain.EventType(nil), s.EventTypes...), nil
}

func (s *Seed) LoadGeographyIndex(ctx context.Context) ([]domain.GeographyEntry, error) {
	return append([]domain.GeographyEntry(nil), s.Geography...), nil
}

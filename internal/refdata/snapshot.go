package refdata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/textnorm"
)

// Alias is one matchable spelling of a known entity
type Alias struct {
	Code string   // scheme/event type code or geography entry id
	Text string   // spelling as stored
	Keys []string // phonetic key tokens of Text
}

// Snapshot is an immutable generation of reference data plus the lookup
// tables built from it. Never mutate a Snapshot after NewSnapshot returns.
type Snapshot struct {
	Schemes    []domain.Scheme
	EventTypes []domain.EventType
	Geography  []domain.GeographyEntry
	Version    string
	LoadedAt   time.Time

	byID        map[string]int
	byFold      map[string][]int
	byKey       map[string][]int
	schemeKeys  map[string]string
	eventKeys   map[string]string
	schemeAlias []Alias
	eventAlias  []Alias
	geoAlias    []Alias
}

// NewSnapshot sorts the inputs, fingerprints them and builds the indices
func NewSnapshot(schemes []domain.Scheme, events []domain.EventType, geo []domain.GeographyEntry, loadedAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		Schemes:    append([]domain.Scheme(nil), schemes...),
		EventTypes: append([]domain.EventType(nil), events...),
		Geography:  append([]domain.GeographyEntry(nil), geo...),
		LoadedAt:   loadedAt,
		byID:       map[string]int{},
		byFold:     map[string][]int{},
		byKey:      map[string][]int{},
		schemeKeys: map[string]string{},
		eventKeys:  map[string]string{},
	}
	sort.SliceStable(s.Schemes, func(i, j int) bool { return s.Schemes[i].Code < s.Schemes[j].Code })
	sort.SliceStable(s.EventTypes, func(i, j int) bool { return s.EventTypes[i].Code < s.EventTypes[j].Code })
	sort.SliceStable(s.Geography, func(i, j int) bool { return s.Geography[i].ID < s.Geography[j].ID })

	version, err := fingerprint(s)
	if err != nil {
		return nil, err
	}
	s.Version = version

	for _, sc := range s.Schemes {
		s.schemeAlias = s.addAliases(s.schemeAlias, s.schemeKeys, sc.Code, append([]string{sc.Code, sc.Name}, sc.Aliases...))
	}
	for _, et := range s.EventTypes {
		s.eventAlias = s.addAliases(s.eventAlias, s.eventKeys, et.Code, append([]string{et.Code, et.Name}, et.Aliases...))
	}

	for i, e := range s.Geography {
		if _, dup := s.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate geography id %q", e.ID)
		}
		s.byID[e.ID] = i
		seenFold, seenKey := map[string]bool{}, map[string]bool{}
		for _, name := range e.Names() {
			fold := textnorm.Fold(name)
			if fold == "" {
				continue
			}
			if !seenFold[fold] {
				seenFold[fold] = true
				s.byFold[fold] = append(s.byFold[fold], i)
			}
			key := textnorm.Key(name)
			if !seenKey[key] {
				seenKey[key] = true
				s.byKey[key] = append(s.byKey[key], i)
				s.geoAlias = append(s.geoAlias, Alias{Code: e.ID, Text: name, Keys: strings.Fields(key)})
			}
		}
	}
	return s, nil
}

func (s *Snapshot) addAliases(list []Alias, keys map[string]string, code string, names []string) []Alias {
	seen := map[string]bool{}
	for _, n := range names {
		key := textnorm.Key(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, taken := keys[key]; !taken {
			keys[key] = code
		}
		list = append(list, Alias{Code: code, Text: n, Keys: strings.Fields(key)})
	}
	return list
}

func fingerprint(s *Snapshot) (string, error) {
	raw, err := json.Marshal(struct {
		Schemes    []domain.Scheme         `json:"schemes"`
		EventTypes []domain.EventType      `json:"event_types"`
		Geography  []domain.GeographyEntry `json:"geography"`
	}{s.Schemes, s.EventTypes, s.Geography})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Entry returns the geography entry with the given id
func (s *Snapshot) Entry(id string) (domain.GeographyEntry, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.GeographyEntry{}, false
	}
	return s.Geography[i], true
}

// ExactGeo returns entries whose name, Hindi name or alias folds to the
// same string as name
func (s *Snapshot) ExactGeo(name string) []domain.GeographyEntry {
	return s.entries(s.byFold[textnorm.Fold(name)])
}

// TransliteratedGeo returns entries whose phonetic key equals that of name
func (s *Snapshot) TransliteratedGeo(name string) []domain.GeographyEntry {
	return s.entries(s.byKey[textnorm.Key(name)])
}

func (s *Snapshot) entries(idx []int) []domain.GeographyEntry {
	if len(idx) == 0 {
		return nil
	}
	out := make([]domain.GeographyEntry, len(idx))
	for i, j := range idx {
		out[i] = s.Geography[j]
	}
	return out
}

// SchemeCode maps a scheme code, name or alias to its code
func (s *Snapshot) SchemeCode(text string) (string, bool) {
	code, ok := s.schemeKeys[textnorm.Key(text)]
	return code, ok
}

// EventTypeCode maps an event type code, name or alias to its code
func (s *Snapshot) EventTypeCode(text string) (string, bool) {
	code, ok := s.eventKeys[textnorm.Key(text)]
	return code, ok
}

// SchemeAliases lists every scheme spelling
func (s *Snapshot) SchemeAliases() []Alias { return s.schemeAlias }

// EventTypeAliases lists every event type spelling
func (s *Snapshot) EventTypeAliases() []Alias { return s.eventAlias }

// GeoAliases lists every geography spelling, keyed by entry id
func (s *Snapshot) GeoAliases() []Alias { return s.geoAlias }

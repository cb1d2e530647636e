package domain

import (
	"fmt"
	"strings"
)

// GeoKind is the administrative level of a geography entry
type GeoKind string

const (
	GeoVillage       GeoKind = "village"
	GeoWard          GeoKind = "ward"
	GeoGramPanchayat GeoKind = "gram_panchayat"
	GeoULB           GeoKind = "ulb"
	GeoBlock         GeoKind = "block"
	GeoAssembly      GeoKind = "assembly"
	GeoDistrict      GeoKind = "district"
)

// Resolvable reports whether entries of this kind can anchor a GeoHierarchy
func (k GeoKind) Resolvable() bool {
	switch k {
	case GeoVillage, GeoWard, GeoGramPanchayat, GeoULB:
		return true
	}
	return false
}

// GeographyEntry is one row of the geography dataset. Every row carries its
// full path up to the district.
type GeographyEntry struct {
	ID            string   `json:"id" yaml:"id"`
	Kind          GeoKind  `json:"kind" yaml:"kind"`
	Name          string   `json:"name" yaml:"name"`
	NameHi        string   `json:"name_hi,omitempty" yaml:"name_hi,omitempty"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	GramPanchayat string   `json:"gram_panchayat,omitempty" yaml:"gram_panchayat,omitempty"`
	ULB           string   `json:"ulb,omitempty" yaml:"ulb,omitempty"`
	WardNo        int      `json:"ward_no,omitempty" yaml:"ward_no,omitempty"`
	Block         string   `json:"block,omitempty" yaml:"block,omitempty"`
	Assembly      string   `json:"assembly,omitempty" yaml:"assembly,omitempty"`
	District      string   `json:"district" yaml:"district"`
	IsUrban       bool     `json:"is_urban" yaml:"is_urban"`
}

// Names returns every spelling the entry can be matched under
func (e GeographyEntry) Names() []string {
	names := []string{e.Name}
	if e.NameHi != "" {
		names = append(names, e.NameHi)
	}
	return append(names, e.Aliases...)
}

// MatchKind records how a location string was matched
type MatchKind string

const (
	MatchExact          MatchKind = "exact"
	MatchTransliterated MatchKind = "transliterated"
	MatchFuzzy          MatchKind = "fuzzy"
	MatchVector         MatchKind = "vector"
)

// GeoHierarchy is a resolved five-level administrative path.
// Build it with NewGeoHierarchy so the urban/rural invariant always holds.
type GeoHierarchy struct {
	EntryID       string    `json:"entry_id"`
	Village       string    `json:"village,omitempty"`
	Ward          string    `json:"ward,omitempty"`
	GramPanchayat string    `json:"gram_panchayat,omitempty"`
	ULB           string    `json:"ulb,omitempty"`
	WardNo        *int      `json:"ward_no,omitempty"`
	Block         string    `json:"block"`
	Assembly      string    `json:"assembly"`
	District      string    `json:"district"`
	IsUrban       bool      `json:"is_urban"`
	Confidence    float64   `json:"confidence"`
	MatchedName   string    `json:"matched_name"`
	MatchKind     MatchKind `json:"match_kind"`
}

// wardMismatchPenalty scales the confidence of a ward entry whose reference
// number differs from the one the post states
const wardMismatchPenalty = 0.5

// NewGeoHierarchy builds a hierarchy from a geography entry. wardNo is the
// ward number stated explicitly in the post for this place, or nil. A ward
// entry always keeps its reference number.
func NewGeoHierarchy(e GeographyEntry, wardNo *int, confidence float64, kind MatchKind) (GeoHierarchy, error) {
	if !e.Kind.Resolvable() {
		return GeoHierarchy{}, fmt.Errorf("entry %s: kind %q cannot anchor a hierarchy", e.ID, e.Kind)
	}

	h := GeoHierarchy{
		EntryID:     e.ID,
		Block:       e.Block,
		Assembly:    e.Assembly,
		District:    e.District,
		IsUrban:     e.IsUrban || e.Kind == GeoULB || e.Kind == GeoWard,
		Confidence:  clamp01(confidence),
		MatchedName: e.Name,
		MatchKind:   kind,
	}

	if h.IsUrban {
		h.ULB = firstNonEmpty(e.ULB, nameIf(e, GeoULB))
		if h.ULB == "" {
			return GeoHierarchy{}, fmt.Errorf("entry %s: urban entry without ulb", e.ID)
		}
		if e.Kind == GeoWard {
			h.Ward = e.Name
		}
		switch {
		case e.Kind == GeoWard && e.WardNo > 0:
			// the reference number wins; a post naming another number
			// casts doubt on the match itself
			n := e.WardNo
			h.WardNo = &n
			if wardNo != nil && *wardNo != e.WardNo {
				h.Confidence = clamp01(confidence * wardMismatchPenalty)
			}
		case wardNo != nil && *wardNo > 0:
			n := *wardNo
			h.WardNo = &n
		}
		return h, nil
	}

	h.GramPanchayat = firstNonEmpty(e.GramPanchayat, nameIf(e, GeoGramPanchayat))
	if h.GramPanchayat == "" {
		return GeoHierarchy{}, fmt.Errorf("entry %s: rural entry without gram panchayat", e.ID)
	}
	if e.Kind == GeoVillage {
		h.Village = e.Name
	}
	return h, nil
}

// Label is a short human readable form of the hierarchy
func (h GeoHierarchy) Label() string {
	parts := make([]string, 0, 6)
	if h.IsUrban {
		if h.Ward != "" {
			parts = append(parts, h.Ward)
		} else if h.WardNo != nil {
			parts = append(parts, fmt.Sprintf("ward %d", *h.WardNo))
		}
		parts = append(parts, h.ULB)
	} else {
		if h.Village != "" {
			parts = append(parts, h.Village)
		}
		parts = append(parts, h.GramPanchayat)
	}
	parts = append(parts, h.Block, h.Assembly, h.District)

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " / ")
}

func nameIf(e GeographyEntry, kind GeoKind) string {
	if e.Kind == kind {
		return e.Name
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package consensus

import (
	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/textnorm"
)

// preference is the order in which layers supply representative spellings.
// Layer C spells entities the way the reference data does.
var preference = []domain.LayerID{domain.LayerC, domain.LayerA, domain.LayerB}

// group is a set of equivalent values produced by different layers
type group struct {
	value  string
	keys   []string
	layers []domain.LayerID
}

func (g *group) has(layer domain.LayerID) bool {
	for _, l := range g.layers {
		if l == layer {
			return true
		}
	}
	return false
}

// matches reports whether key is equivalent to any value already in the group
func (g *group) matches(key string, th textnorm.Thresholds, fuzzy bool) bool {
	for _, k := range g.keys {
		if k == key {
			return true
		}
		if fuzzy {
			if _, ok := textnorm.FuzzyEqualKeys(k, key, th); ok {
				return true
			}
		}
	}
	return false
}

// aligner reconciles one field across the layer results
type aligner struct {
	results map[domain.LayerID]domain.ExtractionResult
	th      textnorm.Thresholds
}

func newAligner(results []domain.ExtractionResult, th textnorm.Thresholds) *aligner {
	a := &aligner{results: map[domain.LayerID]domain.ExtractionResult{}, th: th}
	for _, r := range results {
		if r.OK() {
			a.results[r.Layer] = r
		}
	}
	return a
}

func (a *aligner) confidence(layers []domain.LayerID) float64 {
	if len(layers) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range layers {
		sum += a.results[l].Confidence
	}
	return sum / float64(len(layers))
}

// producers lists the layers with a non-empty value for f, in preference order
func (a *aligner) producers(f domain.FieldName) []domain.LayerID {
	var out []domain.LayerID
	for _, l := range preference {
		if r, ok := a.results[l]; ok && r.HasValue(f) {
			out = append(out, l)
		}
	}
	return out
}

// fallback picks the layer whose value wins when no two layers agree:
// Layer C when it produced anything, else the most confident producer.
func (a *aligner) fallback(producers []domain.LayerID) domain.LayerID {
	best := producers[0]
	if best == domain.LayerC {
		return best
	}
	for _, l := range producers[1:] {
		if a.results[l].Confidence > a.results[best].Confidence {
			best = l
		}
	}
	return best
}

func (a *aligner) field(f domain.FieldName) domain.FieldConsensus {
	if f.IsList() {
		return a.list(f)
	}
	return a.scalar(f)
}

func (a *aligner) scalar(f domain.FieldName) domain.FieldConsensus {
	fc := domain.FieldConsensus{Field: f, Agreement: domain.AgreementNone, AgreeingLayers: []domain.LayerID{}}
	producers := a.producers(f)
	if len(producers) == 0 {
		if f == domain.FieldEventType {
			fc.Value = domain.EventTypeOther
		}
		return fc
	}

	var groups []*group
	for _, l := range producers {
		v := a.results[l].Scalar(f)
		key := textnorm.Key(v)
		g := findGroup(groups, key, l, a.th, false)
		if g == nil {
			g = &group{value: v}
			groups = append(groups, g)
		}
		g.keys = append(g.keys, key)
		g.layers = append(g.layers, l)
	}

	winner := groups[0]
	for _, g := range groups[1:] {
		if len(g.layers) > len(winner.layers) {
			winner = g
		}
	}
	if len(winner.layers) < 2 {
		pick := a.fallback(producers)
		for _, g := range groups {
			if g.has(pick) {
				winner = g
			}
		}
	}

	fc.Value = winner.value
	fc.AgreeingLayers = sortLayers(winner.layers)
	fc.Confidence = a.penalize(a.confidence(winner.layers), len(producers))
	fc.Agreement = agreement(len(winner.layers))
	if fc.Agreement != domain.AgreementFull {
		for _, g := range groups {
			if g != winner {
				fc.ConflictingValues = append(fc.ConflictingValues, g.value)
			}
		}
	}
	return fc
}

func (a *aligner) list(f domain.FieldName) domain.FieldConsensus {
	fc := domain.FieldConsensus{Field: f, Agreement: domain.AgreementNone, AgreeingLayers: []domain.LayerID{}}
	producers := a.producers(f)
	if len(producers) == 0 {
		return fc
	}

	var groups []*group
	for _, l := range producers {
		for _, v := range a.results[l].List(f) {
			key := textnorm.Key(v)
			if key == "" {
				continue
			}
			g := findGroup(groups, key, l, a.th, true)
			if g == nil {
				g = &group{value: v}
				groups = append(groups, g)
			} else if g.has(l) {
				continue
			}
			g.keys = append(g.keys, key)
			g.layers = append(g.layers, l)
		}
	}

	var agreed []*group
	for _, g := range groups {
		if len(g.layers) >= 2 {
			agreed = append(agreed, g)
		}
	}

	majority := len(agreed) > 0
	if !majority {
		pick := a.fallback(producers)
		for _, g := range groups {
			if g.has(pick) {
				agreed = append(agreed, g)
			}
		}
		fc.AgreeingLayers = []domain.LayerID{pick}
		fc.Confidence = a.penalize(a.results[pick].Confidence, len(producers))
	} else {
		seen := map[domain.LayerID]bool{}
		sum := 0.0
		for _, g := range agreed {
			sum += a.confidence(g.layers)
			for _, l := range g.layers {
				seen[l] = true
			}
		}
		for _, l := range domain.Layers {
			if seen[l] {
				fc.AgreeingLayers = append(fc.AgreeingLayers, l)
			}
		}
		fc.Confidence = a.penalize(sum/float64(len(agreed)), len(producers))
	}

	// full only when every layer produced every entry
	weakest := 3
	for _, g := range groups {
		weakest = min(weakest, len(g.layers))
	}
	switch {
	case weakest >= 3:
		fc.Agreement = domain.AgreementFull
	case majority:
		fc.Agreement = domain.AgreementMajority
	}

	inAgreed := map[*group]bool{}
	for _, g := range agreed {
		inAgreed[g] = true
		fc.Values = append(fc.Values, g.value)
	}
	if fc.Agreement != domain.AgreementFull {
		for _, g := range groups {
			if !inAgreed[g] {
				fc.ConflictingValues = append(fc.ConflictingValues, g.value)
			}
		}
	}
	return fc
}

// penalize halves the confidence of a value only one layer produced
func (a *aligner) penalize(conf float64, producers int) float64 {
	if producers == 1 {
		return conf * 0.5
	}
	return conf
}

func findGroup(groups []*group, key string, layer domain.LayerID, th textnorm.Thresholds, fuzzy bool) *group {
	for _, g := range groups {
		if g.matches(key, th, fuzzy) && (!fuzzy || !g.has(layer)) {
			return g
		}
	}
	// a layer repeating a value it already produced joins its own group
	for _, g := range groups {
		if g.matches(key, th, fuzzy) {
			return g
		}
	}
	return nil
}

func agreement(layers int) domain.Agreement {
	switch {
	case layers >= 3:
		return domain.AgreementFull
	case layers == 2:
		return domain.AgreementMajority
	}
	return domain.AgreementNone
}

// overallAgreement is full when every field is full, majority when every
// field has at least a majority, none otherwise
func overallAgreement(fields map[domain.FieldName]domain.FieldConsensus) domain.Agreement {
	level := domain.AgreementFull
	for _, f := range domain.TrackedFields {
		switch fields[f].Agreement {
		case domain.AgreementNone, "":
			return domain.AgreementNone
		case domain.AgreementMajority:
			level = domain.AgreementMajority
		}
	}
	return level
}

func sortLayers(layers []domain.LayerID) []domain.LayerID {
	out := make([]domain.LayerID, 0, len(layers))
	for _, l := range domain.Layers {
		for _, m := range layers {
			if m == l {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

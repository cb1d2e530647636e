package geo

import (
	"strings"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

const maxContextGram = 3

// neighbourhood is the set of administrative units named in a post
type neighbourhood struct {
	blocks     map[string]bool
	assemblies map[string]bool
	districts  map[string]bool
}

// contextEntities finds every known geography name in postText other than
// name itself and collects the blocks, assemblies and districts they
// belong to
func contextEntities(snap *refdata.Snapshot, name, postText string) neighbourhood {
	n := neighbourhood{blocks: map[string]bool{}, assemblies: map[string]bool{}, districts: map[string]bool{}}
	toks := textnorm.Tokens(textnorm.Fold(postText))
	if len(toks) == 0 {
		return n
	}
	self := textnorm.Key(name)

	for size := 1; size <= maxContextGram; size++ {
		for i := 0; i+size <= len(toks); i++ {
			gram := strings.Join(toks[i:i+size], " ")
			if textnorm.Key(gram) == self {
				continue
			}
			entries := snap.ExactGeo(gram)
			if len(entries) == 0 {
				entries = snap.TransliteratedGeo(gram)
			}
			for _, e := range entries {
				n.add(e)
			}
		}
	}
	return n
}

func (n neighbourhood) add(e domain.GeographyEntry) {
	if e.Block != "" {
		n.blocks[textnorm.Fold(e.Block)] = true
	}
	if e.Assembly != "" {
		n.assemblies[textnorm.Fold(e.Assembly)] = true
	}
	if e.District != "" {
		n.districts[textnorm.Fold(e.District)] = true
	}
}

// score weighs a shared block above a shared assembly above a shared
// district
func (n neighbourhood) score(e domain.GeographyEntry) int {
	s := 0
	if n.blocks[textnorm.Fold(e.Block)] {
		s += 4
	}
	if n.assemblies[textnorm.Fold(e.Assembly)] {
		s += 2
	}
	if n.districts[textnorm.Fold(e.District)] {
		s++
	}
	return s
}

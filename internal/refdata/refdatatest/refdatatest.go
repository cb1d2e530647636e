// Package refdatatest provides a small Chhattisgarh reference dataset for tests.
package refdatatest

import (
	_ "embed"
	"testing"
	"time"

	"github.com/pbaille/govpulse/internal/refdata"
)

//go:embed reference.yaml
var referenceYAML []byte

// Seed returns a fresh copy of the fixture dataset
func Seed(t testing.TB) *refdata.Seed {
	t.Helper()
	s, err := refdata.ParseSeed(referenceYAML)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return s
}

// Snapshot builds a snapshot of the fixture dataset
func Snapshot(t testing.TB) *refdata.Snapshot {
	t.Helper()
	s := Seed(t)
	snap, err := refdata.NewSnapshot(s.Schemes, s.EventTypes, s.Geography, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	return snap
}

// YAML returns the raw fixture document
func YAML() []byte {
	return append([]byte(nil), referenceYAML...)
}

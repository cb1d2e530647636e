package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeoHierarchyUrbanULB(t *testing.T) {
	e := GeographyEntry{ID: "u1", Kind: GeoULB, Name: "Raipur", Block: "Raipur", Assembly: "Raipur City", District: "Raipur", IsUrban: true}

	h, err := NewGeoHierarchy(e, nil, 1, MatchExact)
	require.NoError(t, err)
	assert.True(t, h.IsUrban)
	assert.Equal(t, "Raipur", h.ULB)
	assert.Nil(t, h.WardNo)

	ward := 5
	h, err = NewGeoHierarchy(e, &ward, 1, MatchExact)
	require.NoError(t, err)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 5, *h.WardNo)
}

func TestNewGeoHierarchyWardKeepsReferenceNumber(t *testing.T) {
	e := GeographyEntry{ID: "w12", Kind: GeoWard, Name: "Sarkanda", ULB: "Bilaspur", WardNo: 12, Block: "Bilha", Assembly: "Bilaspur", District: "Bilaspur", IsUrban: true}

	h, err := NewGeoHierarchy(e, nil, 1, MatchExact)
	require.NoError(t, err)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 12, *h.WardNo)
	assert.Equal(t, 1.0, h.Confidence)

	same := 12
	h, err = NewGeoHierarchy(e, &same, 1, MatchExact)
	require.NoError(t, err)
	assert.Equal(t, 12, *h.WardNo)
	assert.Equal(t, 1.0, h.Confidence)

	other := 5
	h, err = NewGeoHierarchy(e, &other, 1, MatchExact)
	require.NoError(t, err)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 12, *h.WardNo)
	assert.Equal(t, 0.5, h.Confidence)
	assert.Equal(t, "Sarkanda / Bilaspur / Bilha / Bilaspur / Bilaspur", h.Label())
}

func TestNewGeoHierarchyRural(t *testing.T) {
	e := GeographyEntry{ID: "v1", Kind: GeoVillage, Name: "Kharora", GramPanchayat: "Kharora", Block: "Tilda", Assembly: "Dharsiwa", District: "Raipur"}

	h, err := NewGeoHierarchy(e, nil, 0.8, MatchFuzzy)
	require.NoError(t, err)
	assert.False(t, h.IsUrban)
	assert.Equal(t, "Kharora", h.GramPanchayat)
	assert.Equal(t, "Kharora", h.Village)
	assert.Equal(t, "Kharora / Kharora / Tilda / Dharsiwa / Raipur", h.Label())
}

func TestNewGeoHierarchyRejectsBrokenEntries(t *testing.T) {
	_, err := NewGeoHierarchy(GeographyEntry{ID: "v2", Kind: GeoVillage, Name: "Orphan"}, nil, 1, MatchExact)
	assert.Error(t, err)

	_, err = NewGeoHierarchy(GeographyEntry{ID: "w1", Kind: GeoWard, Name: "Ward 3"}, nil, 1, MatchExact)
	assert.Error(t, err)

	_, err = NewGeoHierarchy(GeographyEntry{ID: "b1", Kind: GeoBlock, Name: "Tilda"}, nil, 1, MatchExact)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindLayerTimeout, KindOf(fmt.Errorf("call: %w", ErrLayerTimeout)))
	assert.Equal(t, KindRateLimitExhausted, KindOf(fmt.Errorf("acquire: %w", ErrRateLimitExhausted)))
	assert.Equal(t, KindLayerMalformedOutput, KindOf(ErrLayerMalformedOutput))
	assert.Equal(t, KindLayerTimeout, KindOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindLayerAPIError, KindOf(context.Canceled))
}

func TestRetryable(t *testing.T) {
	base := errors.New("status 429")
	err := fmt.Errorf("call: %w", Retryable(base))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsRetryable(base))
	assert.Nil(t, Retryable(nil))
}

func TestExtractionResultAccessors(t *testing.T) {
	r := ExtractionResult{Layer: LayerA, EventType: "meeting", Locations: []string{"Raipur"}}

	assert.True(t, r.OK())
	assert.True(t, r.HasValue(FieldEventType))
	assert.True(t, r.HasValue(FieldLocations))
	assert.False(t, r.HasValue(FieldPeople))
	assert.False(t, r.HasValue(FieldEventDate))

	failed := Failed(LayerB, KindLayerTimeout, "deadline")
	assert.False(t, failed.OK())
	for _, f := range TrackedFields {
		assert.False(t, failed.HasValue(f))
	}
}

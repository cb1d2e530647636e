package domain

import "time"

// RawPost is a social post handed to the extraction pipeline
type RawPost struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LayerID identifies one of the three extraction layers
type LayerID string

const (
	LayerA LayerID = "A"
	LayerB LayerID = "B"
	LayerC LayerID = "C"
)

// Layers lists the extraction layers in a fixed order
var Layers = []LayerID{LayerA, LayerB, LayerC}

// FieldName names a tracked field of an extraction
type FieldName string

const (
	FieldEventType     FieldName = "event_type"
	FieldEventDate     FieldName = "event_date"
	FieldLocations     FieldName = "locations"
	FieldPeople        FieldName = "people"
	FieldOrganizations FieldName = "organizations"
	FieldSchemes       FieldName = "schemes"
)

// TrackedFields lists every field a ConsensusResult must carry
var TrackedFields = []FieldName{
	FieldEventType,
	FieldEventDate,
	FieldLocations,
	FieldPeople,
	FieldOrganizations,
	FieldSchemes,
}

// IsList reports whether the field holds a set of values rather than a scalar
func (f FieldName) IsList() bool {
	switch f {
	case FieldLocations, FieldPeople, FieldOrganizations, FieldSchemes:
		return true
	}
	return false
}

// EventTypeOther is the resolved event type when nothing could be agreed on
const EventTypeOther = "other"

// ExtractionResult is the output of one extraction layer for one post.
// Values are never mutated after the layer returns them.
type ExtractionResult struct {
	Layer         LayerID   `json:"layer"`
	EventType     string    `json:"event_type,omitempty"`
	EventDate     string    `json:"event_date,omitempty"`
	Locations     []string  `json:"locations,omitempty"`
	People        []string  `json:"people,omitempty"`
	Organizations []string  `json:"organizations,omitempty"`
	Schemes       []string  `json:"schemes,omitempty"`
	Confidence    float64   `json:"confidence"`
	LatencyMs     int64     `json:"latency_ms"`
	Err           ErrorKind `json:"error,omitempty"`
	ErrDetail     string    `json:"error_detail,omitempty"`
}

// Failed returns an error-flagged result with every field empty
func Failed(layer LayerID, kind ErrorKind, detail string) ExtractionResult {
	return ExtractionResult{Layer: layer, Err: kind, ErrDetail: detail}
}

// OK reports whether the layer produced a usable result
func (r ExtractionResult) OK() bool {
	return r.Err == ""
}

// Scalar returns the value of a scalar field
func (r ExtractionResult) Scalar(f FieldName) string {
	switch f {
	case FieldEventType:
		return r.EventType
	case FieldEventDate:
		return r.EventDate
	}
	return ""
}

// List returns the values of a list field
func (r ExtractionResult) List(f FieldName) []string {
	switch f {
	case FieldLocations:
		return r.Locations
	case FieldPeople:
		return r.People
	case FieldOrganizations:
		return r.Organizations
	case FieldSchemes:
		return r.Schemes
	}
	return nil
}

// HasValue reports whether the layer produced a non-empty value for the field
func (r ExtractionResult) HasValue(f FieldName) bool {
	if f.IsList() {
		return len(r.List(f)) > 0
	}
	return r.Scalar(f) != ""
}

// FieldConsensus is the reconciled value of one field across the layers
type FieldConsensus struct {
	Field             FieldName `json:"field"`
	Value             string    `json:"value,omitempty"`
	Values            []string  `json:"values,omitempty"`
	AgreeingLayers    []LayerID `json:"agreeing_layers"`
	Confidence        float64   `json:"confidence"`
	ConflictingValues []string  `json:"conflicting_values,omitempty"`
	Agreement         Agreement `json:"agreement"`
}

// Agreement summarizes how many layers concurred
type Agreement string

const (
	AgreementFull     Agreement = "full"
	AgreementMajority Agreement = "majority"
	AgreementNone     Agreement = "none"
)

// Conflict is an annotation attached to a ConsensusResult
type Conflict struct {
	Kind   ErrorKind `json:"kind"`
	Field  FieldName `json:"field,omitempty"`
	Value  string    `json:"value,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// LayerSummary records how a layer fared during a parse
type LayerSummary struct {
	Layer      LayerID   `json:"layer"`
	Confidence float64   `json:"confidence"`
	LatencyMs  int64     `json:"latency_ms"`
	Err        ErrorKind `json:"error,omitempty"`
}

// ConsensusResult is the reconciled extraction for one post
type ConsensusResult struct {
	PostID          string                       `json:"post_id"`
	Fields          map[FieldName]FieldConsensus `json:"fields"`
	OverallScore    float64                      `json:"overall_score"`
	AgreementLevel  Agreement                    `json:"agreement_level"`
	Conflicts       []Conflict                   `json:"conflicts,omitempty"`
	GeoHierarchy    []GeoHierarchy               `json:"geo_hierarchy,omitempty"`
	Layers          []LayerSummary               `json:"layers"`
	BelowThreshold  bool                         `json:"below_threshold,omitempty"`
	SnapshotVersion string                       `json:"snapshot_version,omitempty"`
}

// Scheme is a known government scheme
type Scheme struct {
	Code    string   `json:"code" yaml:"code"`
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// EventType is a known event category
type EventType struct {
	Code    string   `json:"code" yaml:"code"`
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// GeoCorrection is an append-only audit record written by human review
type GeoCorrection struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	Field          FieldName `json:"field"`
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	SourceLayers   []LayerID `json:"source_layers,omitempty"`
	CorrectedBy    string    `json:"corrected_by"`
	Reason         string    `json:"reason,omitempty"`
	CorrectedAt    time.Time `json:"corrected_at"`
}

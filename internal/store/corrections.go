package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pbaille/govpulse/internal/domain"
)

// ErrInvalidCorrection is returned for corrections missing required fields
var ErrInvalidCorrection = errors.New("invalid correction")

// AppendCorrection records a human review correction. The log is append
// only: there is no update or delete.
func (s *Store) AppendCorrection(ctx context.Context, c domain.GeoCorrection) (*domain.GeoCorrection, error) {
	if strings.TrimSpace(c.PostID) == "" {
		return nil, fmt.Errorf("%w: post id is required", ErrInvalidCorrection)
	}
	if strings.TrimSpace(c.CorrectedBy) == "" {
		return nil, fmt.Errorf("%w: corrected_by is required", ErrInvalidCorrection)
	}
	if !tracked(c.Field) {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidCorrection, c.Field)
	}

	c.ID = uuid.New().String()
	if c.CorrectedAt.IsZero() {
		c.CorrectedAt = s.now()
	}
	c.CorrectedAt = c.CorrectedAt.UTC()

	layers := make([]string, len(c.SourceLayers))
	for i, l := range c.SourceLayers {
		layers[i] = string(l)
	}
	encoded, err := encodeList(layers)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO geo_corrections (id, post_id, field, original_value, corrected_value,
		                             source_layers, corrected_by, reason, corrected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.PostID, string(c.Field), c.OriginalValue, c.CorrectedValue, encoded, c.CorrectedBy, c.Reason, c.CorrectedAt)
	if err != nil {
		return nil, fmt.Errorf("insert correction: %w", err)
	}
	return &c, nil
}

// ListCorrections returns corrections oldest first, for one post or for
// all posts when postID is empty
func (s *Store) ListCorrections(ctx context.Context, postID string, limit int) ([]domain.GeoCorrection, error) {
	query := `
		SELECT id, post_id, field, original_value, corrected_value, source_layers,
		       corrected_by, reason, corrected_at
		FROM geo_corrections`
	var args []any
	if postID != "" {
		query += " WHERE post_id = ?"
		args = append(args, postID)
	}
	query += " ORDER BY corrected_at, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []domain.GeoCorrection
	for rows.Next() {
		var c domain.GeoCorrection
		var field, layers string
		if err := rows.Scan(&c.ID, &c.PostID, &field, &c.OriginalValue, &c.CorrectedValue, &layers,
			&c.CorrectedBy, &c.Reason, &c.CorrectedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.Field = domain.FieldName(field)
		ids, err := decodeList(layers)
		if err != nil {
			return nil, fmt.Errorf("correction %s layers: %w", c.ID, err)
		}
		for _, id := range ids {
			c.SourceLayers = append(c.SourceLayers, domain.LayerID(id))
		}
		c.CorrectedAt = c.CorrectedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func tracked(f domain.FieldName) bool {
	for _, t := range domain.TrackedFields {
		if t == f {
			return true
		}
	}
	return false
}

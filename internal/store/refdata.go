package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
)

// LoadSchemes returns every known scheme
func (s *Store) LoadSchemes(ctx context.Context) ([]domain.Scheme, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code, name, aliases FROM schemes ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list schemes: %w", err)
	}
	defer rows.Close()

	var schemes []domain.Scheme
	for rows.Next() {
		var sc domain.Scheme
		var aliases string
		if err := rows.Scan(&sc.Code, &sc.Name, &aliases); err != nil {
			return nil, fmt.Errorf("scan scheme: %w", err)
		}
		if sc.Aliases, err = decodeList(aliases); err != nil {
			return nil, fmt.Errorf("scheme %s aliases: %w", sc.Code, err)
		}
		schemes = append(schemes, sc)
	}
	return schemes, rows.Err()
}

// LoadEventTypes returns every known event type
func (s *Store) LoadEventTypes(ctx context.Context) ([]domain.EventType, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code, name, aliases FROM event_types ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	var events []domain.EventType
	for rows.Next() {
		var et domain.EventType
		var aliases string
		if err := rows.Scan(&et.Code, &et.Name, &aliases); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		if et.Aliases, err = decodeList(aliases); err != nil {
			return nil, fmt.Errorf("event type %s aliases: %w", et.Code, err)
		}
		events = append(events, et)
	}
	return events, rows.Err()
}

// LoadGeographyIndex returns every geography entry
func (s *Store) LoadGeographyIndex(ctx context.Context) ([]domain.GeographyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, name_hi, aliases, gram_panchayat, ulb, ward_no,
		       block, assembly, district, is_urban
		FROM geography
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list geography: %w", err)
	}
	defer rows.Close()

	var entries []domain.GeographyEntry
	for rows.Next() {
		var e domain.GeographyEntry
		var kind, aliases string
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.NameHi, &aliases, &e.GramPanchayat, &e.ULB,
			&e.WardNo, &e.Block, &e.Assembly, &e.District, &e.IsUrban); err != nil {
			return nil, fmt.Errorf("scan geography: %w", err)
		}
		e.Kind = domain.GeoKind(kind)
		if e.Aliases, err = decodeList(aliases); err != nil {
			return nil, fmt.Errorf("geography %s aliases: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportCounts reports how many rows a seed import wrote
type ImportCounts struct {
	Schemes    int
	EventTypes int
	Geography  int
}

// ImportSeed validates seed and upserts every row in one transaction
func (s *Store) ImportSeed(ctx context.Context, seed *refdata.Seed) (ImportCounts, error) {
	var counts ImportCounts
	if err := seed.Validate(); err != nil {
		return counts, fmt.Errorf("validate seed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, sc := range seed.Schemes {
		if err := s.upsertCoded(ctx, tx, "schemes", sc.Code, sc.Name, sc.Aliases); err != nil {
			return counts, fmt.Errorf("upsert scheme %s: %w", sc.Code, err)
		}
		counts.Schemes++
	}
	for _, et := range seed.EventTypes {
		if err := s.upsertCoded(ctx, tx, "event_types", et.Code, et.Name, et.Aliases); err != nil {
			return counts, fmt.Errorf("upsert event type %s: %w", et.Code, err)
		}
		counts.EventTypes++
	}
	for _, e := range seed.Geography {
		if err := s.upsertGeography(ctx, tx, e); err != nil {
			return counts, fmt.Errorf("upsert geography %s: %w", e.ID, err)
		}
		counts.Geography++
	}

	if err := tx.Commit(); err != nil {
		return ImportCounts{}, fmt.Errorf("commit import: %w", err)
	}
	return counts, nil
}

func (s *Store) upsertCoded(ctx context.Context, tx *sql.Tx, table, code, name string, aliases []string) error {
	encoded, err := encodeList(aliases)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO `+table+` (code, name, aliases) VALUES (?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET name = excluded.name, aliases = excluded.aliases
	`), code, name, encoded)
	return err
}

func (s *Store) upsertGeography(ctx context.Context, tx *sql.Tx, e domain.GeographyEntry) error {
	aliases, err := encodeList(e.Aliases)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO geography (id, kind, name, name_hi, aliases, gram_panchayat, ulb, ward_no,
		                       block, assembly, district, is_urban)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			name_hi = excluded.name_hi,
			aliases = excluded.aliases,
			gram_panchayat = excluded.gram_panchayat,
			ulb = excluded.ulb,
			ward_no = excluded.ward_no,
			block = excluded.block,
			assembly = excluded.assembly,
			district = excluded.district,
			is_urban = excluded.is_urban
	`), e.ID, string(e.Kind), e.Name, e.NameHi, aliases, e.GramPanchayat, e.ULB, e.WardNo,
		e.Block, e.Assembly, e.District, e.IsUrban)
	return err
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

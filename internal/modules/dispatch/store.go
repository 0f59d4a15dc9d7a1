// README: Safety incident store backed by PostgreSQL. Incidents are append-only; status moves by CAS.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

const incidentColumns = `
	id, booking_id, reporter_id, type, lat, lng, description, status,
	handled_by, resolution_note, created_at, updated_at, resolved_at`

type IncidentStore struct {
	db *pgxpool.Pool
}

func NewIncidentStore(db *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{db: db}
}

func (s *IncidentStore) Create(ctx context.Context, in *Incident) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO safety_incidents (
			id, booking_id, reporter_id, type, lat, lng, description, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		string(in.ID), string(in.BookingID), string(in.ReporterID), string(in.Type),
		in.Location.Lat, in.Location.Lng, in.Description, string(in.Status), in.CreatedAt,
	)
	return err
}

func (s *IncidentStore) Get(ctx context.Context, id types.ID) (*Incident, error) {
	row := s.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM safety_incidents WHERE id = $1`, string(id))
	in, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	return in, err
}

// ListOpen returns unresolved incidents, SOS first, oldest first.
func (s *IncidentStore) ListOpen(ctx context.Context, limit int) ([]*Incident, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+incidentColumns+`
		FROM safety_incidents
		WHERE status <> 'resolved'
		ORDER BY (type = 'sos') DESC, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateStatus moves an incident from one status to another; it reports false
// when the row was no longer in from.
func (s *IncidentStore) UpdateStatus(ctx context.Context, id types.ID, from, to IncidentStatus, handledBy types.ID, note *string, at time.Time) (bool, error) {
	var resolvedAt *time.Time
	if to == IncidentResolved {
		resolvedAt = &at
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE safety_incidents
		SET status = $3,
			handled_by = $4,
			resolution_note = COALESCE($5, resolution_note),
			resolved_at = COALESCE($6, resolved_at),
			updated_at = $7
		WHERE id = $1 AND status = $2`,
		string(id), string(from), string(to), string(handledBy), note, resolvedAt, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanIncident(row pgx.Row) (*Incident, error) {
	var in Incident
	var handledBy *string
	err := row.Scan(
		&in.ID, &in.BookingID, &in.ReporterID, &in.Type, &in.Location.Lat, &in.Location.Lng,
		&in.Description, &in.Status, &handledBy, &in.ResolutionNote,
		&in.CreatedAt, &in.UpdatedAt, &in.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if handledBy != nil {
		id := types.ID(*handledBy)
		in.HandledBy = &id
	}
	return &in, nil
}

// README: POI store backed by PostgreSQL; duplicate candidates come from a lat/lng box scan.
package poi

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const poiColumns = `
	id, name, lat, lng, geohash, category, creator_id, approval_status, images,
	moderated_by, moderation_note, created_at, updated_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *POI) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pois (
			id, name, lat, lng, geohash, category, creator_id, approval_status, images, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		string(p.ID), p.Name, p.Location.Lat, p.Location.Lng, p.Geohash, p.Category,
		string(p.CreatorID), string(p.ApprovalStatus), p.Images, p.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*POI, error) {
	row := s.db.QueryRow(ctx, `SELECT `+poiColumns+` FROM pois WHERE id = $1`, string(id))
	p, err := scanPOI(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// Candidates returns live POIs inside box.
func (s *Store) Candidates(ctx context.Context, box geo.Box) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, lat, lng, approval_status
		FROM pois
		WHERE approval_status IN ('approved', 'active')
		  AND lat BETWEEN $1 AND $2
		  AND lng BETWEEN $3 AND $4`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Location.Lat, &c.Location.Lng, &c.Status); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPending returns submissions awaiting a moderator, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*POI, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+poiColumns+`
		FROM pois
		WHERE approval_status IN ('pending', 'needs_review')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*POI
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus records a moderator decision if the row is still in from.
func (s *Store) SetStatus(ctx context.Context, id types.ID, from, to ApprovalStatus, moderator types.ID, note *string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE pois
		SET approval_status = $3, moderated_by = $4, moderation_note = $5, updated_at = $6
		WHERE id = $1 AND approval_status = $2`,
		string(id), string(from), string(to), string(moderator), note, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanPOI(row pgx.Row) (*POI, error) {
	var p POI
	var moderatedBy *string
	err := row.Scan(
		&p.ID, &p.Name, &p.Location.Lat, &p.Location.Lng, &p.Geohash, &p.Category,
		&p.CreatorID, &p.ApprovalStatus, &p.Images, &moderatedBy, &p.ModerationNote,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if moderatedBy != nil {
		id := types.ID(*moderatedBy)
		p.ModeratedBy = &id
	}
	return &p, nil
}

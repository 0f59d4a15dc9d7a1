// README: Provider store backed by PostgreSQL; row locks and counters run inside caller transactions.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const providerColumns = `
	id, kind, user_id, display_name, available_days, work_start, work_end,
	lat, lng, location_updated_at, available,
	base_rate, per_km_rate, per_minute_rate,
	verification, rating, rating_count, completed_count, subscription_tier,
	created_at, updated_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *Provider) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO providers (
			id, kind, user_id, display_name, available_days, work_start, work_end,
			lat, lng, location_updated_at, available,
			base_rate, per_km_rate, per_minute_rate,
			verification, rating, rating_count, completed_count, subscription_tier,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21
		)`,
		string(p.ID), string(p.Kind), string(p.UserID), p.DisplayName,
		daysToInts(p.Schedule.AvailableDays), int(p.Schedule.WorkingHours.Start), int(p.Schedule.WorkingHours.End),
		p.Location.Lat, p.Location.Lng, p.LocationUpdatedAt, p.Available,
		p.Rates.Base, p.Rates.PerKm, p.Rates.PerMinute,
		string(p.Verification), p.Rating, p.RatingCount, p.CompletedCount, nullString(p.SubscriptionTier),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Provider, error) {
	return get(ctx, s.db, id)
}

func (s *Store) GetByUser(ctx context.Context, kind types.ProviderKind, userID types.ID) (*Provider, error) {
	row := s.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE kind = $1 AND user_id = $2`, string(kind), string(userID))
	p, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Provider, error) {
	rows, err := s.db.Query(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ANY($1)`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	list, err := collect(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]*Provider, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// ListInBox returns available providers whose last known location lies in box.
func (s *Store) ListInBox(ctx context.Context, kind types.ProviderKind, box geo.Box, limit int) ([]*Provider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE kind = $1
		  AND available
		  AND lat BETWEEN $2 AND $3
		  AND lng BETWEEN $4 AND $5
		LIMIT $6`,
		string(kind), box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE providers
		SET lat = $2, lng = $3, location_updated_at = $4, updated_at = $4
		WHERE id = $1`,
		string(id), p.Lat, p.Lng, at,
	)
	return affectedOne(tag, err)
}

func (s *Store) SetAvailable(ctx context.Context, id types.ID, available bool, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE providers SET available = $2, updated_at = $3 WHERE id = $1`, string(id), available, at)
	return affectedOne(tag, err)
}

func (s *Store) SetVerification(ctx context.Context, id types.ID, v Verification, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE providers SET verification = $2, updated_at = $3 WHERE id = $1`, string(id), string(v), at)
	return affectedOne(tag, err)
}

func (s *Store) UpdateSchedule(ctx context.Context, id types.ID, sched availability.WeeklySchedule, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE providers
		SET available_days = $2, work_start = $3, work_end = $4, updated_at = $5
		WHERE id = $1`,
		string(id), daysToInts(sched.AvailableDays), int(sched.WorkingHours.Start), int(sched.WorkingHours.End), at,
	)
	return affectedOne(tag, err)
}

// LockForUpdate loads and row-locks the given providers inside tx, in id order
// so concurrent lockers never deadlock on each other.
func LockForUpdate(ctx context.Context, tx pgx.Tx, ids []types.ID) (map[types.ID]*Provider, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	list, err := collect(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]*Provider, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	return out, nil
}

// ApplyRating folds rating into the running average with a single
// read-modify-write statement, so concurrent ratings never lose updates.
func ApplyRating(ctx context.Context, q Querier, id types.ID, rating int) (float64, error) {
	if rating < 1 || rating > 5 {
		return 0, ErrInvalidRating
	}
	var avg float64
	err := q.QueryRow(ctx, `
		UPDATE providers
		SET rating = ROUND(((rating * rating_count + $2) / (rating_count + 1))::numeric, 1)::float8,
		    rating_count = rating_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING rating`, string(id), rating,
	).Scan(&avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return avg, err
}

func IncrementCompleted(ctx context.Context, q Querier, id types.ID) error {
	tag, err := q.Exec(ctx, `
		UPDATE providers SET completed_count = completed_count + 1, updated_at = NOW()
		WHERE id = $1`, string(id))
	return affectedOne(tag, err)
}

func get(ctx context.Context, q Querier, id types.ID) (*Provider, error) {
	row := q.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, string(id))
	p, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var days []int32
	var workStart, workEnd int32
	var tier *string
	err := row.Scan(
		&p.ID, &p.Kind, &p.UserID, &p.DisplayName, &days, &workStart, &workEnd,
		&p.Location.Lat, &p.Location.Lng, &p.LocationUpdatedAt, &p.Available,
		&p.Rates.Base, &p.Rates.PerKm, &p.Rates.PerMinute,
		&p.Verification, &p.Rating, &p.RatingCount, &p.CompletedCount, &tier,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Schedule.AvailableDays = make([]availability.Day, 0, len(days))
	for _, d := range days {
		p.Schedule.AvailableDays = append(p.Schedule.AvailableDays, availability.Day(d))
	}
	p.Schedule.WorkingHours = availability.WorkingHours{Start: availability.Clock(workStart), End: availability.Clock(workEnd)}
	if tier != nil {
		p.SubscriptionTier = *tier
	}
	return &p, nil
}

func collect(rows pgx.Rows) ([]*Provider, error) {
	defer rows.Close()
	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func affectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func daysToInts(days []availability.Day) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

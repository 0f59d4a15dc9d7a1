// README: Booking store backed by PostgreSQL: serializable create, CAS transitions, guarded rating.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const bookingColumns = `
	id, requester_id, guide_id, driver_id, type, start_at, end_at, duration_minutes, party_size,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, distance_km, surge_multiplier,
	estimated_amount, total_amount, commission_amount, platform_fee, variance,
	status, status_version, payment_status,
	cancelled_by, cancellation_reason, refund_amount, cancelled_at,
	rating, review, rated_at,
	created_at, confirmed_at, started_at, completed_at`

// AdmitFunc runs inside the create transaction with the locked provider rows
// and their occupying windows; returning an error aborts the insert.
type AdmitFunc func(providers map[types.ID]*provider.Provider, occupying map[types.ID][]availability.Window) error

// TransitionUpdate carries the mutated booking plus the CAS guard.
type TransitionUpdate struct {
	Booking *Booking
	From    Status
	Version int
	Event   Event
	// CountCompleted bumps the completed counter of the booking's providers.
	CountCompleted bool
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateExclusive(ctx context.Context, b *Booking, admit AdmitFunc) error {
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		ids := b.ProviderIDs()
		providers, err := provider.LockForUpdate(ctx, tx, ids)
		if err != nil {
			return err
		}
		occupying, err := occupyingWindows(ctx, tx, ids, b.Window.Start, b.Window.End)
		if err != nil {
			return err
		}
		if err := admit(providers, occupying); err != nil {
			return err
		}
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		return appendEvent(ctx, tx, &Event{
			BookingID:  b.ID,
			FromStatus: StatusNone,
			ToStatus:   b.Status,
			ActorRole:  RoleRequester,
			ActorID:    &b.RequesterID,
			CreatedAt:  b.CreatedAt,
		})
	})
	if isSerializationFailure(err) {
		return ErrSchedulingConflict
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Store) ListByRequester(ctx context.Context, requesterID types.ID, limit int) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE requester_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(requesterID), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE guide_id = $1 OR driver_id = $1
		ORDER BY start_at DESC
		LIMIT $2`, string(providerID), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListPendingRides returns ride requests still waiting for the driver, created before cutoff.
func (s *Store) ListPendingRides(ctx context.Context, createdBefore time.Time, limit int) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE type = 'ride' AND status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// OccupyingWindows returns, per provider, the windows of bookings that reserve
// their time and intersect [from, to).
func (s *Store) OccupyingWindows(ctx context.Context, providerIDs []types.ID, from, to time.Time) (map[types.ID][]availability.Window, error) {
	return occupyingWindows(ctx, s.db, providerIDs, from, to)
}

func (s *Store) UpdateTransition(ctx context.Context, u TransitionUpdate) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		b := u.Booking
		var cancelledBy, reason *string
		var refund *float64
		var cancelledAt *time.Time
		if c := b.Cancellation; c != nil {
			role := string(c.CancelledBy)
			cancelledBy, reason, refund, cancelledAt = &role, &c.Reason, &c.RefundAmount, &c.CancelledAt
		}
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $1,
			    status_version = status_version + 1,
			    payment_status = $2,
			    distance_km = $3,
			    duration_minutes = $4,
			    total_amount = $5,
			    commission_amount = $6,
			    platform_fee = $7,
			    variance = $8,
			    cancelled_by = $9,
			    cancellation_reason = $10,
			    refund_amount = $11,
			    cancelled_at = $12,
			    confirmed_at = $13,
			    started_at = $14,
			    completed_at = $15,
			    updated_at = NOW()
			WHERE id = $16 AND status = $17 AND status_version = $18`,
			string(b.Status), string(b.PaymentStatus), b.DistanceKm, b.DurationMinutes,
			b.TotalAmount, b.CommissionAmount, b.PlatformFee, b.Variance,
			cancelledBy, reason, refund, cancelledAt,
			b.ConfirmedAt, b.StartedAt, b.CompletedAt,
			string(b.ID), string(u.From), u.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if err := appendEvent(ctx, tx, &u.Event); err != nil {
			return err
		}
		if u.CountCompleted {
			for _, id := range b.ProviderIDs() {
				if err := provider.IncrementCompleted(ctx, tx, id); err != nil {
					return err
				}
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// Rate stores the one-time rating and folds it into every named provider's
// average in the same transaction.
func (s *Store) Rate(ctx context.Context, id types.ID, rating int, review *string, at time.Time) (*Booking, error) {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var guideID, driverID *string
		err := tx.QueryRow(ctx, `
			UPDATE bookings
			SET rating = $2, review = $3, rated_at = $4, updated_at = $4
			WHERE id = $1 AND status = 'completed' AND rating IS NULL
			RETURNING guide_id, driver_id`,
			string(id), rating, review, at,
		).Scan(&guideID, &driverID)
		if errors.Is(err, pgx.ErrNoRows) {
			return rateRejection(ctx, tx, id)
		}
		if err != nil {
			return err
		}
		for _, pid := range []*string{guideID, driverID} {
			if pid == nil {
				continue
			}
			if _, err := provider.ApplyRating(ctx, tx, types.ID(*pid), rating); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func rateRejection(ctx context.Context, tx pgx.Tx, id types.ID) error {
	var status string
	var rated bool
	err := tx.QueryRow(ctx, `SELECT status, rating IS NOT NULL FROM bookings WHERE id = $1`, string(id)).Scan(&status, &rated)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case rated:
		return ErrAlreadyRated
	default:
		return ErrNotCompleted
	}
}

func (s *Store) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_role, actor_id, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	var dropLat, dropLng *float64
	if b.Dropoff != nil {
		dropLat, dropLng = &b.Dropoff.Lat, &b.Dropoff.Lng
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (
			id, requester_id, guide_id, driver_id, type, start_at, end_at, duration_minutes, party_size,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, distance_km, surge_multiplier,
			estimated_amount, total_amount, commission_amount, platform_fee,
			status, status_version, payment_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23, $23
		)`,
		string(b.ID), string(b.RequesterID), toStringPtr(b.GuideID), toStringPtr(b.DriverID), string(b.Type),
		b.Window.Start, b.Window.End, b.DurationMinutes, b.PartySize,
		b.Pickup.Lat, b.Pickup.Lng, dropLat, dropLng, b.DistanceKm, b.SurgeMultiplier,
		b.EstimatedAmount, b.TotalAmount, b.CommissionAmount, b.PlatformFee,
		string(b.Status), b.StatusVersion, string(b.PaymentStatus), b.CreatedAt,
	)
	return err
}

func appendEvent(ctx context.Context, q provider.Querier, e *Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO booking_events (
			booking_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func occupyingWindows(ctx context.Context, q provider.Querier, providerIDs []types.ID, from, to time.Time) (map[types.ID][]availability.Window, error) {
	ids := make([]string, len(providerIDs))
	for i, id := range providerIDs {
		ids[i] = string(id)
	}
	rows, err := q.Query(ctx, `
		SELECT guide_id, driver_id, start_at, end_at
		FROM bookings
		WHERE (guide_id = ANY($1) OR driver_id = ANY($1))
		  AND status IN ('pending', 'confirmed', 'in_progress')
		  AND start_at < $3 AND end_at > $2`,
		ids, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wanted := make(map[types.ID]bool, len(providerIDs))
	for _, id := range providerIDs {
		wanted[id] = true
	}
	out := make(map[types.ID][]availability.Window)
	for rows.Next() {
		var guideID, driverID *string
		var w availability.Window
		if err := rows.Scan(&guideID, &driverID, &w.Start, &w.End); err != nil {
			return nil, err
		}
		for _, pid := range []*string{guideID, driverID} {
			if pid != nil && wanted[types.ID(*pid)] {
				out[types.ID(*pid)] = append(out[types.ID(*pid)], w)
			}
		}
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var guideID, driverID, cancelledBy, reason *string
	var dropLat, dropLng, refund *float64
	var cancelledAt *time.Time
	var rating *int16

	err := row.Scan(
		&b.ID, &b.RequesterID, &guideID, &driverID, &b.Type, &b.Window.Start, &b.Window.End, &b.DurationMinutes, &b.PartySize,
		&b.Pickup.Lat, &b.Pickup.Lng, &dropLat, &dropLng, &b.DistanceKm, &b.SurgeMultiplier,
		&b.EstimatedAmount, &b.TotalAmount, &b.CommissionAmount, &b.PlatformFee, &b.Variance,
		&b.Status, &b.StatusVersion, &b.PaymentStatus,
		&cancelledBy, &reason, &refund, &cancelledAt,
		&rating, &b.Review, &b.RatedAt,
		&b.CreatedAt, &b.ConfirmedAt, &b.StartedAt, &b.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	b.GuideID = toIDPtr(guideID)
	b.DriverID = toIDPtr(driverID)
	if dropLat != nil && dropLng != nil {
		b.Dropoff = &types.Point{Lat: *dropLat, Lng: *dropLng}
	}
	if cancelledBy != nil {
		c := &Cancellation{CancelledBy: Role(*cancelledBy)}
		if reason != nil {
			c.Reason = *reason
		}
		if refund != nil {
			c.RefundAmount = *refund
		}
		if cancelledAt != nil {
			c.CancelledAt = *cancelledAt
		}
		b.Cancellation = c
	}
	if rating != nil {
		r := int(*rating)
		b.Rating = &r
	}
	return &b, nil
}

func collect(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// isSerializationFailure matches serialization failures and deadlocks, both
// of which mean a concurrent create won the slot.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/testutil"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

func TestIncidentStore(t *testing.T) {
	db := testutil.Postgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	driver := &provider.Provider{
		ID:        types.ID(uuid.NewString()),
		Kind:      types.KindDriver,
		UserID:    "driver-user",
		Location:  types.Point{Lat: 6.03, Lng: 80.21},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := provider.NewStore(db).Create(ctx, driver); err != nil {
		t.Fatal(err)
	}
	b := &booking.Booking{
		ID:            types.ID(uuid.NewString()),
		RequesterID:   "tourist",
		DriverID:      &driver.ID,
		Type:          booking.TypeRide,
		Window:        availability.Window{Start: now, End: now.Add(30 * time.Minute)},
		Pickup:        driver.Location,
		Status:        booking.StatusPending,
		PaymentStatus: booking.PaymentUnpaid,
		CreatedAt:     now,
	}
	admit := func(map[types.ID]*provider.Provider, map[types.ID][]availability.Window) error { return nil }
	if err := booking.NewStore(db).CreateExclusive(ctx, b, admit); err != nil {
		t.Fatal(err)
	}

	store := NewIncidentStore(db)
	in := &Incident{
		ID:          types.ID(uuid.NewString()),
		BookingID:   b.ID,
		ReporterID:  "tourist",
		Type:        IncidentSOS,
		Location:    b.Pickup,
		Description: "help",
		Status:      IncidentOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(ctx, in); err != nil {
		t.Fatal(err)
	}
	open, err := store.ListOpen(ctx, 10)
	if err != nil || len(open) != 1 || open[0].ID != in.ID {
		t.Fatalf("open = %+v, %v", open, err)
	}

	note := "handled"
	ok, err := store.UpdateStatus(ctx, in.ID, IncidentOpen, IncidentResolved, "ops", &note, now)
	if err != nil || !ok {
		t.Fatalf("resolve = %v, %v", ok, err)
	}
	ok, err = store.UpdateStatus(ctx, in.ID, IncidentOpen, IncidentUnderReview, "ops", nil, now)
	if err != nil || ok {
		t.Fatalf("stale update = %v, %v", ok, err)
	}
	got, err := store.Get(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != IncidentResolved || got.ResolvedAt == nil || *got.ResolutionNote != "handled" || *got.HandledBy != "ops" {
		t.Fatalf("stored = %+v", got)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestShareStore(t *testing.T) {
	rdb := testutil.Redis(t)
	ctx := context.Background()
	store := NewShareStore(rdb)
	token := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, shareKey(token)) })

	if err := store.Put(ctx, token, "b1", time.Minute); err != nil {
		t.Fatal(err)
	}
	id, err := store.Lookup(ctx, token)
	if err != nil || id != "b1" {
		t.Fatalf("lookup = %q, %v", id, err)
	}
	if ttl := rdb.TTL(ctx, shareKey(token)).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	if _, err := store.Lookup(ctx, "unknown"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
}

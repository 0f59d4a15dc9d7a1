package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apihttp "github.com/PearlPath/pearlpath-api/internal/http"
	"github.com/PearlPath/pearlpath-api/internal/infra"
	"github.com/PearlPath/pearlpath-api/internal/logger"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/dispatch"
	"github.com/PearlPath/pearlpath-api/internal/modules/matching"
	"github.com/PearlPath/pearlpath-api/internal/modules/poi"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/modules/ratelimit"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

// tokenVerifier treats the bearer token as "<uid>" or "<uid>:<role>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	if raw == "bad" {
		return nil, errors.New("bad token")
	}
	uid, role, _ := strings.Cut(raw, ":")
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.FirebaseToken{UID: uid, Claims: claims}, nil
}

type stubProviders struct {
	mu       sync.Mutex
	location types.Point
}

func (s *stubProviders) Register(_ context.Context, cmd provider.RegisterCommand) (*provider.Provider, error) {
	return &provider.Provider{ID: "new", Kind: cmd.Kind, UserID: cmd.UserID}, nil
}

func (s *stubProviders) Get(_ context.Context, id types.ID) (*provider.Provider, error) {
	if id != "g1" {
		return nil, provider.ErrNotFound
	}
	return &provider.Provider{ID: "g1", Kind: types.KindGuide, UserID: "guide-user"}, nil
}

func (s *stubProviders) UpdateLocation(_ context.Context, id types.ID, actor provider.Actor, loc types.Point) error {
	if actor.UserID != "guide-user" && actor.Role != "admin" {
		return provider.ErrForbidden
	}
	s.mu.Lock()
	s.location = loc
	s.mu.Unlock()
	return nil
}

func (s *stubProviders) SetOnline(context.Context, types.ID, provider.Actor, bool) error { return nil }

func (s *stubProviders) UpdateSchedule(context.Context, types.ID, provider.Actor, availability.WeeklySchedule) error {
	return nil
}

func (s *stubProviders) Verify(_ context.Context, _ types.ID, actor provider.Actor, _ provider.Verification) error {
	if !actor.IsStaff() {
		return provider.ErrForbidden
	}
	return nil
}

type stubSearch struct {
	last matching.Query
}

func (s *stubSearch) Search(_ context.Context, q matching.Query) ([]matching.Result, error) {
	s.last = q
	return []matching.Result{{Provider: &provider.Provider{ID: "g1"}, DistanceKm: 1.2, Available: true}}, nil
}

type stubBookings struct {
	mu          sync.Mutex
	created     []booking.CreateCommand
	transitions []booking.TransitionCommand
	declined    []types.ID
	rated       []booking.RateCommand
	createErr   error
}

func (s *stubBookings) Create(_ context.Context, cmd booking.CreateCommand) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, cmd)
	return &booking.Booking{ID: "b1", RequesterID: cmd.RequesterID, Type: cmd.Type, Status: booking.StatusPending}, nil
}

func (s *stubBookings) Transition(_ context.Context, cmd booking.TransitionCommand) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, cmd)
	target, _ := cmd.Action.Target()
	return &booking.Booking{ID: cmd.BookingID, Status: target}, nil
}

func (s *stubBookings) Decline(_ context.Context, id types.ID, _ booking.Actor, _ string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined = append(s.declined, id)
	return &booking.Booking{ID: id, Status: booking.StatusCancelled}, nil
}

func (s *stubBookings) Rate(_ context.Context, cmd booking.RateCommand) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rated) > 0 {
		return nil, booking.ErrAlreadyRated
	}
	s.rated = append(s.rated, cmd)
	return &booking.Booking{ID: cmd.BookingID, Rating: &cmd.Rating}, nil
}

func (s *stubBookings) GetForActor(_ context.Context, id types.ID, actor booking.Actor) (*booking.Booking, error) {
	if actor.UserID != "tourist" && !actor.Admin {
		return nil, booking.ErrForbidden
	}
	return &booking.Booking{ID: id, RequesterID: "tourist"}, nil
}

func (s *stubBookings) ListByRequester(_ context.Context, requesterID types.ID, _ int) ([]*booking.Booking, error) {
	return []*booking.Booking{{ID: "b1", RequesterID: requesterID}}, nil
}

func (s *stubBookings) ListByProvider(_ context.Context, providerID types.ID, _ int) ([]*booking.Booking, error) {
	return []*booking.Booking{{ID: "b1"}}, nil
}

type engineQuoter struct {
	engine *pricing.Engine
}

func (q engineQuoter) Quote(_ context.Context, cmd pricing.QuoteCommand) (pricing.Breakdown, error) {
	return q.engine.Estimate(cmd.Request)
}

type stubDispatch struct {
	mu  sync.Mutex
	sos []dispatch.SOSCommand
}

func (s *stubDispatch) RequestRide(_ context.Context, r dispatch.RideRequest) (*booking.Booking, error) {
	return &booking.Booking{ID: "r1", RequesterID: r.RequesterID, Type: booking.TypeRide}, nil
}

func (s *stubDispatch) Respond(_ context.Context, cmd dispatch.RespondCommand) (*booking.Booking, error) {
	if cmd.Response != dispatch.ResponseAccept && cmd.Response != dispatch.ResponseDecline {
		return nil, dispatch.ErrUnknownResponse
	}
	return &booking.Booking{ID: cmd.BookingID, Status: booking.StatusConfirmed}, nil
}

func (s *stubDispatch) StartRide(_ context.Context, id types.ID, _ booking.Actor) (*booking.Booking, error) {
	return &booking.Booking{ID: id, Status: booking.StatusInProgress}, nil
}

func (s *stubDispatch) CompleteRide(_ context.Context, id types.ID, _ booking.Actor, _ *booking.Actuals) (*booking.Booking, error) {
	return &booking.Booking{ID: id, Status: booking.StatusCompleted}, nil
}

func (s *stubDispatch) ShareTrip(_ context.Context, id, _ types.ID) (*dispatch.Share, error) {
	return &dispatch.Share{Token: "tok", BookingID: id}, nil
}

func (s *stubDispatch) ViewSharedTrip(_ context.Context, token string) (*dispatch.SharedTrip, error) {
	if token != "tok" {
		return nil, dispatch.ErrShareNotFound
	}
	return &dispatch.SharedTrip{BookingID: "r1", Status: booking.StatusInProgress}, nil
}

func (s *stubDispatch) TriggerSOS(_ context.Context, cmd dispatch.SOSCommand) (*dispatch.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sos = append(s.sos, cmd)
	return &dispatch.Incident{ID: "i1", BookingID: cmd.BookingID, Type: dispatch.IncidentSOS}, nil
}

func (s *stubDispatch) ReportIncident(_ context.Context, cmd dispatch.ReportCommand) (*dispatch.Incident, error) {
	return &dispatch.Incident{ID: "i2", BookingID: cmd.BookingID, ReporterID: cmd.ReporterID}, nil
}

func (s *stubDispatch) GetIncident(_ context.Context, id types.ID, _ dispatch.Staff) (*dispatch.Incident, error) {
	return &dispatch.Incident{ID: id}, nil
}

func (s *stubDispatch) ListOpenIncidents(_ context.Context, caller dispatch.Staff, _ int) ([]*dispatch.Incident, error) {
	if !caller.IsStaff {
		return nil, dispatch.ErrForbidden
	}
	return []*dispatch.Incident{}, nil
}

func (s *stubDispatch) ReviewIncident(_ context.Context, id types.ID, _ dispatch.Staff) (*dispatch.Incident, error) {
	return &dispatch.Incident{ID: id, Status: dispatch.IncidentUnderReview}, nil
}

func (s *stubDispatch) ResolveIncident(_ context.Context, id types.ID, _ dispatch.Staff, _ string) (*dispatch.Incident, error) {
	return &dispatch.Incident{ID: id, Status: dispatch.IncidentResolved}, nil
}

type stubPOIs struct {
	submitted []poi.SubmitCommand
}

func (s *stubPOIs) Classify(_ context.Context, _ string, _ types.Point) (poi.Decision, error) {
	return poi.Decision{Status: poi.StatusApproved}, nil
}

func (s *stubPOIs) Submit(_ context.Context, cmd poi.SubmitCommand) (*poi.POI, poi.Decision, error) {
	if len(cmd.Images) == 0 {
		return nil, poi.Decision{}, poi.ErrNoEvidence
	}
	s.submitted = append(s.submitted, cmd)
	return &poi.POI{ID: "p1", Name: cmd.Name, CreatorID: cmd.CreatorID}, poi.Decision{Status: poi.StatusApproved}, nil
}

func (s *stubPOIs) Moderate(_ context.Context, cmd poi.ModerateCommand) (*poi.POI, error) {
	if !cmd.Moderator.IsStaff {
		return nil, poi.ErrForbidden
	}
	return &poi.POI{ID: cmd.ID, ApprovalStatus: cmd.Status}, nil
}

func (s *stubPOIs) ListPending(_ context.Context, m poi.Moderator, _ int) ([]*poi.POI, error) {
	if !m.IsStaff {
		return nil, poi.ErrForbidden
	}
	return []*poi.POI{}, nil
}

func (s *stubPOIs) Get(_ context.Context, id types.ID) (*poi.POI, error) {
	return nil, poi.ErrNotFound
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) ratelimit.Result {
	return ratelimit.Result{Limit: 1, RetryAfter: time.Second}
}

type fixture struct {
	router    *gin.Engine
	providers *stubProviders
	search    *stubSearch
	bookings  *stubBookings
	dispatch  *stubDispatch
	pois      *stubPOIs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		providers: &stubProviders{},
		search:    &stubSearch{},
		bookings:  &stubBookings{},
		dispatch:  &stubDispatch{},
		pois:      &stubPOIs{},
	}
	f.router = apihttp.NewRouter(apihttp.RouterDeps{
		Verifier:  tokenVerifier{},
		Log:       logger.Discard(),
		Providers: f.providers,
		Search:    f.search,
		Bookings:  f.bookings,
		Pricing:   engineQuoter{engine: pricing.NewEngine(pricing.DefaultPolicy(), time.UTC)},
		Dispatch:  f.dispatch,
		POIs:      f.pois,
		Currency:  "LKR",
	})
	return f
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	return doRequest(f.router, method, path, token, body)
}

func doRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/health", "", nil); w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health = %d %q", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestHealthReportsDependencyFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := apihttp.NewRouter(apihttp.RouterDeps{
		Verifier: tokenVerifier{},
		Log:      logger.Discard(),
		Health:   func(context.Context) error { return errors.New("db down") },
	})
	if w := doRequest(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/bookings", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/bookings", "bad", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}
}

func TestSearchParsesQuery(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/providers/search?kind=guide&lat=7.29&lng=80.63&radius_km=5"+
		"&start=2026-10-19T10:00:00Z&end=2026-10-19T12:00:00Z&sort=price&verified=true&min_rating=4&limit=5", "tourist", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	q := f.search.last
	if q.Kind != types.KindGuide || q.Location.Lat != 7.29 || q.RadiusKm != 5 || q.Sort != matching.SortPrice {
		t.Fatalf("query = %+v", q)
	}
	if !q.VerifiedOnly || q.MinRating != 4 || q.Limit != 5 {
		t.Fatalf("filters = %+v", q)
	}
	if q.Window == nil || q.Window.End.Sub(q.Window.Start) != 2*time.Hour {
		t.Fatalf("window = %+v", q.Window)
	}

	for _, path := range []string{
		"/api/providers/search?kind=guide&lng=80",
		"/api/providers/search?kind=guide&lat=x&lng=80",
		"/api/providers/search?kind=guide&lat=7&lng=80&start=tomorrow",
	} {
		if w := f.do(http.MethodGet, path, "tourist", nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", path, w.Code)
		}
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"type":      "guide",
		"providers": []map[string]string{{"kind": "guide", "id": "g1"}},
		"start":     "2026-10-19T10:00:00Z",
		"end":       "2026-10-19T12:00:00Z",
		"pickup":    map[string]float64{"lat": 7.29, "lng": 80.63},
	}
	w := f.do(http.MethodPost, "/api/bookings", "tourist", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	cmd := f.bookings.created[0]
	if cmd.RequesterID != "tourist" || len(cmd.Refs) != 1 || cmd.Refs[0].ID != "g1" || cmd.Dropoff != nil {
		t.Fatalf("command = %+v", cmd)
	}

	f.bookings.createErr = booking.ErrSchedulingConflict
	if w := f.do(http.MethodPost, "/api/bookings", "tourist", body); w.Code != http.StatusConflict {
		t.Fatalf("conflict = %d", w.Code)
	}
	delete(body, "pickup")
	if w := f.do(http.MethodPost, "/api/bookings", "tourist", body); w.Code != http.StatusBadRequest {
		t.Fatalf("missing pickup = %d", w.Code)
	}
}

func TestCreateBookingIgnoresClientDistance(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"type":      "driver",
		"providers": []map[string]string{{"kind": "driver", "id": "d1"}},
		"start":     "2026-10-19T10:00:00Z",
		"end":       "2026-10-19T11:00:00Z",
		"pickup":    map[string]float64{"lat": 6.0329, "lng": 80.2168},
		"dropoff":   map[string]float64{"lat": 6.0097, "lng": 80.2480},
	}
	if w := f.do(http.MethodPost, "/api/bookings", "tourist", body); w.Code != http.StatusCreated {
		t.Fatalf("plain create = %d", w.Code)
	}
	body["distance_km"] = 0.01
	if w := f.do(http.MethodPost, "/api/bookings", "tourist", body); w.Code != http.StatusCreated {
		t.Fatalf("create with distance_km = %d", w.Code)
	}
	if len(f.bookings.created) != 2 || !reflect.DeepEqual(f.bookings.created[0], f.bookings.created[1]) {
		t.Fatalf("distance_km changed the command: %+v", f.bookings.created)
	}
}

func TestBookingActionRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/bookings/b1/cancel", "tourist", map[string]string{"reason": "plans changed"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	tc := f.bookings.transitions[0]
	if tc.Action != booking.ActionCancel || tc.Actor.UserID != "tourist" || tc.Actor.Admin || tc.Reason != "plans changed" {
		t.Fatalf("transition = %+v", tc)
	}

	if w := f.do(http.MethodPost, "/api/bookings/b1/confirm", "ops:admin", nil); w.Code != http.StatusOK {
		t.Fatalf("admin confirm = %d", w.Code)
	}
	if !f.bookings.transitions[1].Actor.Admin {
		t.Fatal("admin flag not carried")
	}

	if w := f.do(http.MethodPost, "/api/bookings/b1/decline", "guide-user", nil); w.Code != http.StatusOK {
		t.Fatalf("decline = %d", w.Code)
	}
	if len(f.bookings.declined) != 1 {
		t.Fatal("decline not routed")
	}

	if w := f.do(http.MethodPost, "/api/bookings/b1/teleport", "tourist", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown action = %d", w.Code)
	}

	if w := f.do(http.MethodPost, "/api/bookings/b1/rating", "tourist", map[string]any{"rating": 5}); w.Code != http.StatusOK {
		t.Fatalf("rate = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/bookings/b1/rating", "tourist", map[string]any{"rating": 4}); w.Code != http.StatusConflict {
		t.Fatalf("second rate = %d", w.Code)
	}
	if len(f.bookings.transitions) != 2 {
		t.Fatalf("rating leaked into transitions: %+v", f.bookings.transitions)
	}
}

func TestGetBookingForbidden(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/bookings/b1", "stranger", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/bookings/b1", "tourist", nil); w.Code != http.StatusOK {
		t.Fatalf("requester = %d", w.Code)
	}
}

func TestProviderRoutes(t *testing.T) {
	f := newFixture(t)
	loc := map[string]float64{"lat": 7.3, "lng": 80.6}
	if w := f.do(http.MethodPut, "/api/providers/g1/location", "someone", loc); w.Code != http.StatusForbidden {
		t.Fatalf("foreign location update = %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/api/providers/g1/location", "guide-user", loc); w.Code != http.StatusNoContent {
		t.Fatalf("own location update = %d", w.Code)
	}
	if f.providers.location.Lat != 7.3 {
		t.Fatalf("location = %+v", f.providers.location)
	}
	if w := f.do(http.MethodPut, "/api/providers/g1/online", "guide-user", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing online flag = %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/api/providers/g1/verification", "guide-user", map[string]string{"status": "verified"}); w.Code != http.StatusForbidden {
		t.Fatalf("self verify = %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/api/providers/g1/verification", "mod:moderator", map[string]string{"status": "verified"}); w.Code != http.StatusOK {
		t.Fatalf("moderator verify = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/providers/g1/bookings", "someone", nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign bookings = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/providers/zz/bookings", "guide-user", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown provider = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/providers/g1/bookings", "guide-user", nil); w.Code != http.StatusOK {
		t.Fatalf("own bookings = %d", w.Code)
	}
}

func TestFareEstimate(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/fares/estimate", "tourist", map[string]any{
		"kind":             "guide",
		"rates":            map[string]float64{"base": 500, "per_minute": 5},
		"duration_minutes": 120,
		"at":               "2026-10-19T10:00:00Z",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var b pricing.Breakdown
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.Total != 1100 || b.SurgeMultiplier != 1 {
		t.Fatalf("breakdown = %+v", b)
	}
	var cur struct {
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cur); err != nil || cur.Currency != "LKR" {
		t.Fatalf("currency = %q (%v)", cur.Currency, err)
	}

	w = f.do(http.MethodPost, "/api/fares/estimate", "tourist", map[string]any{"kind": "boat"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", w.Code)
	}
}

func TestRideRoutes(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/rides", "tourist", map[string]any{
		"driver_id": "d1",
		"pickup":    map[string]float64{"lat": 6.93, "lng": 79.85},
		"dropoff":   map[string]float64{"lat": 6.9, "lng": 79.86},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("request = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/rides/r1/respond", "driver-user", map[string]string{"response": "maybe"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad response = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/rides/r1/respond", "driver-user", map[string]string{"response": "accept"}); w.Code != http.StatusOK {
		t.Fatalf("accept = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/rides/r1/complete", "driver-user", nil); w.Code != http.StatusOK {
		t.Fatalf("complete without actuals = %d", w.Code)
	}

	if w := f.do(http.MethodPost, "/api/rides/r1/sos", "tourist", nil); w.Code != http.StatusCreated {
		t.Fatalf("sos = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/rides/r1/sos", "tourist", map[string]any{"location": map[string]float64{"lat": 6.91, "lng": 79.86}}); w.Code != http.StatusCreated {
		t.Fatalf("sos with location = %d", w.Code)
	}
	if f.dispatch.sos[0].Location != nil || f.dispatch.sos[1].Location == nil || f.dispatch.sos[1].Location.Lat != 6.91 {
		t.Fatalf("sos commands = %+v", f.dispatch.sos)
	}

	if w := f.do(http.MethodPost, "/api/bookings/r1/incidents", "tourist", map[string]any{"description": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("report without location = %d", w.Code)
	}
}

func TestSharedTripIsPublic(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/trips/shared/tok", "", nil); w.Code != http.StatusOK {
		t.Fatalf("shared = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/trips/shared/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expired share = %d", w.Code)
	}
}

func TestStaffRoutes(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/incidents", "tourist", nil); w.Code != http.StatusForbidden {
		t.Fatalf("traveller incidents = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/incidents", "ops:moderator", nil); w.Code != http.StatusOK {
		t.Fatalf("staff incidents = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/pois/pending", "tourist", nil); w.Code != http.StatusForbidden {
		t.Fatalf("traveller pending = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/pois/p1/moderate", "ops:admin", map[string]string{"status": "approved"}); w.Code != http.StatusOK {
		t.Fatalf("admin moderate = %d", w.Code)
	}
}

func TestPOIRoutes(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/pois/classify", "tourist", map[string]any{"name": "Galle Fort"}); w.Code != http.StatusBadRequest {
		t.Fatalf("classify without location = %d", w.Code)
	}
	loc := map[string]float64{"lat": 6.03, "lng": 80.22}
	if w := f.do(http.MethodPost, "/api/pois/classify", "tourist", map[string]any{"name": "Galle Fort", "location": loc}); w.Code != http.StatusOK {
		t.Fatalf("classify = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/pois", "tourist", map[string]any{"name": "Galle Fort", "location": loc}); w.Code != http.StatusBadRequest {
		t.Fatalf("no evidence = %d", w.Code)
	}
	w := f.do(http.MethodPost, "/api/pois", "tourist", map[string]any{"name": "Galle Fort", "location": loc, "images": []string{"a.jpg"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d", w.Code)
	}
	if f.pois.submitted[0].CreatorID != "tourist" {
		t.Fatalf("creator = %q", f.pois.submitted[0].CreatorID)
	}
	if w := f.do(http.MethodGet, "/api/pois/missing", "tourist", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing poi = %d", w.Code)
	}
}

func TestRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := apihttp.NewRouter(apihttp.RouterDeps{
		Verifier: tokenVerifier{},
		Limiter:  denyAll{},
		Log:      logger.Discard(),
		Bookings: &stubBookings{},
	})
	w := doRequest(r, http.MethodGet, "/api/bookings", "tourist", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("retry-after = %q", w.Header().Get("Retry-After"))
	}
}

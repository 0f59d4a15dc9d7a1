// README: POI service screens submissions for duplicates and applies moderator overrides.
package poi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	maxNameLen   = 200
	geohashChars = 7
)

type Repository interface {
	Create(ctx context.Context, p *POI) error
	Get(ctx context.Context, id types.ID) (*POI, error)
	Candidates(ctx context.Context, box geo.Box) ([]Candidate, error)
	ListPending(ctx context.Context, limit int) ([]*POI, error)
	SetStatus(ctx context.Context, id types.ID, from, to ApprovalStatus, moderator types.ID, note *string, at time.Time) (bool, error)
}

// Moderator is the caller of moderation operations.
type Moderator struct {
	UserID  types.ID
	IsStaff bool
}

type Service struct {
	store Repository
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Repository, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Classify runs duplicate screening for name at loc without storing anything.
func (s *Service) Classify(ctx context.Context, name string, loc types.Point) (Decision, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return Decision{}, fmt.Errorf("%w: name", ErrBadRequest)
	}
	box, err := geo.BoundingBox(loc, DuplicateRadiusKm)
	if err != nil {
		return Decision{}, err
	}
	candidates, err := s.store.Candidates(ctx, box)
	if err != nil {
		return Decision{}, fmt.Errorf("load candidates: %w", err)
	}
	d, err := Classify(name, loc, candidates)
	if err != nil {
		return Decision{}, err
	}
	observability.POIClassified.WithLabelValues(string(d.Status)).Inc()
	return d, nil
}

type SubmitCommand struct {
	CreatorID types.ID
	Name      string
	Location  types.Point
	Category  string
	Images    []string
}

// Submit stores a new POI with the status chosen by the classifier.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*POI, Decision, error) {
	if cmd.CreatorID == "" {
		return nil, Decision{}, ErrBadRequest
	}
	images := make([]string, 0, len(cmd.Images))
	for _, img := range cmd.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, Decision{}, ErrNoEvidence
	}
	d, err := s.Classify(ctx, cmd.Name, cmd.Location)
	if err != nil {
		return nil, Decision{}, err
	}
	now := s.now()
	p := &POI{
		ID:             types.ID(uuid.NewString()),
		Name:           strings.TrimSpace(cmd.Name),
		Location:       cmd.Location,
		Geohash:        geo.Cell(cmd.Location, geohashChars),
		Category:       strings.TrimSpace(cmd.Category),
		CreatorID:      cmd.CreatorID,
		ApprovalStatus: d.Status,
		Images:         images,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, Decision{}, err
	}
	entry := s.log.WithFields(logrus.Fields{"poi_id": p.ID, "status": d.Status, "nearby": d.Nearby})
	if d.Match != nil {
		entry = entry.WithField("match_id", d.Match.ID)
	}
	entry.Info("poi submitted")
	return p, d, nil
}

type ModerateCommand struct {
	ID        types.ID
	Moderator Moderator
	Status    ApprovalStatus
	Note      string
}

// Moderate overrides the automatic decision.
func (s *Service) Moderate(ctx context.Context, cmd ModerateCommand) (*POI, error) {
	if !cmd.Moderator.IsStaff {
		return nil, ErrForbidden
	}
	switch cmd.Status {
	case StatusApproved, StatusRejected, StatusNeedsReview:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrBadRequest, cmd.Status)
	}
	p, err := s.store.Get(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	var note *string
	if n := strings.TrimSpace(cmd.Note); n != "" {
		note = &n
	}
	ok, err := s.store.SetStatus(ctx, p.ID, p.ApprovalStatus, cmd.Status, cmd.Moderator.UserID, note, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.log.WithFields(logrus.Fields{"poi_id": p.ID, "from": p.ApprovalStatus, "to": cmd.Status, "moderator": cmd.Moderator.UserID}).Info("poi moderated")
	return s.store.Get(ctx, p.ID)
}

func (s *Service) ListPending(ctx context.Context, m Moderator, limit int) ([]*POI, error) {
	if !m.IsStaff {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListPending(ctx, limit)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*POI, error) {
	return s.store.Get(ctx, id)
}

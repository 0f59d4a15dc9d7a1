// README: Points of interest submitted by users, with automatic duplicate screening.
package poi

import (
	"errors"
	"time"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

var (
	ErrNotFound   = errors.New("poi not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("moderator role required")
	ErrNoEvidence = errors.New("at least one evidence image is required")
	ErrConflict   = errors.New("poi was moderated concurrently")
)

type ApprovalStatus string

const (
	StatusPending     ApprovalStatus = "pending"
	StatusApproved    ApprovalStatus = "approved"
	StatusNeedsReview ApprovalStatus = "needs_review"
	StatusRejected    ApprovalStatus = "rejected"
	// StatusActive is the legacy spelling of approved still found in older rows.
	StatusActive ApprovalStatus = "active"
)

func (s ApprovalStatus) Live() bool {
	return s == StatusApproved || s == StatusActive
}

type POI struct {
	ID             types.ID       `json:"id"`
	Name           string         `json:"name"`
	Location       types.Point    `json:"location"`
	Geohash        string         `json:"geohash"`
	Category       string         `json:"category,omitempty"`
	CreatorID      types.ID       `json:"creator_id"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	Images         []string       `json:"images"`
	ModeratedBy    *types.ID      `json:"moderated_by,omitempty"`
	ModerationNote *string        `json:"moderation_note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Decision is the classifier outcome for a submission.
type Decision struct {
	Status ApprovalStatus `json:"status"`
	// Match is the nearby POI whose name looked like a duplicate.
	Match *Candidate `json:"match,omitempty"`
	// Nearby counts live POIs inside the duplicate radius.
	Nearby int `json:"nearby"`
}

type Candidate struct {
	ID       types.ID       `json:"id"`
	Name     string         `json:"name"`
	Location types.Point    `json:"location"`
	Status   ApprovalStatus `json:"status"`
}

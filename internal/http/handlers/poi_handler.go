// README: POI handlers: duplicate classification, submission, moderation queue.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/modules/poi"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type POIService interface {
	Classify(ctx context.Context, name string, loc types.Point) (poi.Decision, error)
	Submit(ctx context.Context, cmd poi.SubmitCommand) (*poi.POI, poi.Decision, error)
	Moderate(ctx context.Context, cmd poi.ModerateCommand) (*poi.POI, error)
	ListPending(ctx context.Context, m poi.Moderator, limit int) ([]*poi.POI, error)
	Get(ctx context.Context, id types.ID) (*poi.POI, error)
}

type POIHandler struct {
	pois POIService
}

func NewPOIHandler(svc POIService) *POIHandler {
	return &POIHandler{pois: svc}
}

type classifyReq struct {
	Name     string `json:"name"`
	Location *point `json:"location"`
}

// Classify handles POST /api/pois/classify; nothing is stored.
func (h *POIHandler) Classify(c *gin.Context) {
	var req classifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := req.Location.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "location is required")
		return
	}
	d, err := h.pois.Classify(c.Request.Context(), req.Name, loc)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type submitReq struct {
	Name     string   `json:"name"`
	Location *point   `json:"location"`
	Category string   `json:"category"`
	Images   []string `json:"images"`
}

func (h *POIHandler) Submit(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := req.Location.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "location is required")
		return
	}
	p, d, err := h.pois.Submit(c.Request.Context(), poi.SubmitCommand{
		CreatorID: types.ID(middleware.CallerUID(c)),
		Name:      req.Name,
		Location:  loc,
		Category:  req.Category,
		Images:    req.Images,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"poi": p, "decision": d})
}

func (h *POIHandler) Get(c *gin.Context) {
	p, err := h.pois.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *POIHandler) ListPending(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.pois.ListPending(c.Request.Context(), moderator(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"pois": list})
}

type moderateReq struct {
	Status poi.ApprovalStatus `json:"status"`
	Note   string             `json:"note"`
}

func (h *POIHandler) Moderate(c *gin.Context) {
	var req moderateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.pois.Moderate(c.Request.Context(), poi.ModerateCommand{
		ID:        types.ID(c.Param("id")),
		Moderator: moderator(c),
		Status:    req.Status,
		Note:      req.Note,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

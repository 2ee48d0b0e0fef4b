package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/site"
)

// SiteServiceInterface はサイトハンドラーが必要とするサービスインターフェース。
type SiteServiceInterface interface {
	List(ctx context.Context, p access.Principal, project string) ([]*model.Site, error)
	Get(ctx context.Context, p access.Principal, project string, id int64) (*model.Site, error)
	Create(ctx context.Context, p access.Principal, project string, in site.CreateInput) (*model.Site, error)
	Publish(ctx context.Context, p access.Principal, project string, id int64, published bool) error
	Delete(ctx context.Context, p access.Principal, project string, id int64) error
}

// SiteHandler はサイトのHTTPハンドラー。
type SiteHandler struct {
	service SiteServiceInterface
}

// NewSiteHandler はSiteHandlerを生成する。
func NewSiteHandler(service SiteServiceInterface) *SiteHandler {
	return &SiteHandler{service: service}
}

type createSiteRequest struct {
	Name      string  `json:"name" validate:"required,max=255"`
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
}

type siteResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Published bool      `json:"published"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toSiteResponse(s *model.Site) siteResponse {
	return siteResponse{
		ID:        s.ID,
		Name:      s.Name,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Published: s.Published,
		Creator:   s.Creator,
		CreatedAt: s.CreatedAt,
	}
}

// List はサイトの一覧を返す。
// GET /projects/{project}/sites
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.List(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	items := make([]siteResponse, len(sites))
	for i, s := range sites {
		items[i] = toSiteResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Get はサイトを取得する。
// GET /projects/{project}/sites/{site}
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "site", access.KindSite)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	s, err := h.service.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSiteResponse(s))
}

// Create はサイトを作成する。
// POST /projects/{project}/sites
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	projectID := chi.URLParam(r, "project")
	s, err := h.service.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, site.CreateInput{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/projects/%s/sites/%d", url.PathEscape(projectID), s.ID))
	writeJSON(w, http.StatusCreated, toSiteResponse(s))
}

// Publish は公開状態を変更する。
// POST /projects/{project}/sites/{site}/publish?publish=true|false
func (h *SiteHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "site", access.KindSite)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	published, err := publishParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Publish(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), id, published); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete はサイトを削除する。
// DELETE /projects/{project}/sites/{site}
func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "site", access.KindSite)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

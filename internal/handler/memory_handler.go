package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/memory"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
)

// MemoryServiceInterface は思い出ハンドラーが必要とするサービスインターフェース。
type MemoryServiceInterface interface {
	List(ctx context.Context, p access.Principal, project string, site int64) ([]*model.Memory, error)
	Get(ctx context.Context, p access.Principal, project string, site, id int64) (*model.Memory, error)
	Create(ctx context.Context, p access.Principal, project string, site int64, in memory.Input) (*model.Memory, error)
	Update(ctx context.Context, p access.Principal, project string, site, id int64, in memory.Input) error
	Publish(ctx context.Context, p access.Principal, project string, site, id int64, published bool) error
	Delete(ctx context.Context, p access.Principal, project string, site, id int64) error
}

// MemoryHandler は思い出のHTTPハンドラー。
type MemoryHandler struct {
	service MemoryServiceInterface
}

// NewMemoryHandler はMemoryHandlerを生成する。
func NewMemoryHandler(service MemoryServiceInterface) *MemoryHandler {
	return &MemoryHandler{service: service}
}

type memoryRequest struct {
	Title string `json:"title" validate:"required,max=255"`
	Story string `json:"story" validate:"max=20000"`
}

type memoryResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Story     string    `json:"story,omitempty"`
	Published bool      `json:"published"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMemoryResponse(m *model.Memory) memoryResponse {
	return memoryResponse{
		ID:        m.ID,
		Title:     m.Title,
		Story:     m.Story,
		Published: m.Published,
		Creator:   m.Creator,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// memoryPath はURLからプロジェクトとサイトIDを取り出す。
func memoryPath(r *http.Request) (string, int64, error) {
	siteID, err := idParam(r, "site", access.KindSite)
	return chi.URLParam(r, "project"), siteID, err
}

// List は思い出の一覧を返す。
// GET /projects/{project}/sites/{site}/memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	memories, err := h.service.List(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	items := make([]memoryResponse, len(memories))
	for i, m := range memories {
		items[i] = toMemoryResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Get は思い出を取得する。
// GET /projects/{project}/sites/{site}/memories/{memory}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := idParam(r, "memory", access.KindMemory)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	m, err := h.service.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemoryResponse(m))
}

// Create は思い出を投稿する。
// POST /projects/{project}/sites/{site}/memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req memoryRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	m, err := h.service.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID, memory.Input{
		Title: req.Title,
		Story: req.Story,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/projects/%s/sites/%d/memories/%d", url.PathEscape(projectID), siteID, m.ID))
	writeJSON(w, http.StatusCreated, toMemoryResponse(m))
}

// Modify は思い出を編集する。作成者のみ実行できる。
// PATCH /projects/{project}/sites/{site}/memories/{memory}
func (h *MemoryHandler) Modify(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := idParam(r, "memory", access.KindMemory)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req memoryRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	err = h.service.Update(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID, id, memory.Input{
		Title: req.Title,
		Story: req.Story,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish は公開状態を変更する。
// POST /projects/{project}/sites/{site}/memories/{memory}/publish?publish=true|false
func (h *MemoryHandler) Publish(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := idParam(r, "memory", access.KindMemory)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	published, err := publishParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Publish(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID, id, published); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete は思い出を削除する。
// DELETE /projects/{project}/sites/{site}/memories/{memory}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, siteID, err := memoryPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := idParam(r, "memory", access.KindMemory)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), projectID, siteID, id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

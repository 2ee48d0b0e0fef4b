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
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	List(ctx context.Context, p access.Principal, project string, site, memory int64) ([]*model.Comment, error)
	Get(ctx context.Context, p access.Principal, project string, site, memory, id int64) (*model.Comment, error)
	Create(ctx context.Context, p access.Principal, project string, site, memory int64, body string) (*model.Comment, error)
	Publish(ctx context.Context, p access.Principal, project string, site, memory, id int64, published bool) error
	Delete(ctx context.Context, p access.Principal, project string, site, memory, id int64) error
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

type commentRequest struct {
	Comment string `json:"comment" validate:"required,max=2500"`
}

type commentResponse struct {
	ID        int64     `json:"id"`
	Comment   string    `json:"comment"`
	Published bool      `json:"published"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		Comment:   c.Body,
		Published: c.Published,
		Creator:   c.Creator,
		CreatedAt: c.CreatedAt,
	}
}

// commentPath はURLからプロジェクト、サイトID、思い出IDを取り出す。
type commentPath struct {
	project string
	site    int64
	memory  int64
}

func parseCommentPath(r *http.Request) (commentPath, error) {
	siteID, err := idParam(r, "site", access.KindSite)
	if err != nil {
		return commentPath{}, err
	}
	memoryID, err := idParam(r, "memory", access.KindMemory)
	if err != nil {
		return commentPath{}, err
	}
	return commentPath{project: chi.URLParam(r, "project"), site: siteID, memory: memoryID}, nil
}

// List はコメントの一覧を返す。
// GET /projects/{project}/sites/{site}/memories/{memory}/comments
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	path, err := parseCommentPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	comments, err := h.service.List(r.Context(), middleware.PrincipalFromContext(r.Context()), path.project, path.site, path.memory)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	items := make([]commentResponse, len(comments))
	for i, c := range comments {
		items[i] = toCommentResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Get はコメントを取得する。
// GET /projects/{project}/sites/{site}/memories/{memory}/comments/{comment}
func (h *CommentHandler) Get(w http.ResponseWriter, r *http.Request) {
	path, id, err := h.target(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	c, err := h.service.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), path.project, path.site, path.memory, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommentResponse(c))
}

// Create はコメントを投稿する。
// POST /projects/{project}/sites/{site}/memories/{memory}/comments
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	path, err := parseCommentPath(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req commentRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.service.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), path.project, path.site, path.memory, req.Comment)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/projects/%s/sites/%d/memories/%d/comments/%d",
		url.PathEscape(path.project), path.site, path.memory, c.ID))
	writeJSON(w, http.StatusCreated, toCommentResponse(c))
}

// Publish は公開状態を変更する。
// POST /projects/{project}/sites/{site}/memories/{memory}/comments/{comment}/publish?publish=true|false
func (h *CommentHandler) Publish(w http.ResponseWriter, r *http.Request) {
	path, id, err := h.target(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	published, err := publishParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Publish(r.Context(), middleware.PrincipalFromContext(r.Context()), path.project, path.site, path.memory, id, published); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete はコメントを削除する。
// DELETE /projects/{project}/sites/{site}/memories/{memory}/comments/{comment}
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path, id, err := h.target(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), path.project, path.site, path.memory, id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CommentHandler) target(r *http.Request) (commentPath, int64, error) {
	path, err := parseCommentPath(r)
	if err != nil {
		return path, 0, err
	}
	id, err := idParam(r, "comment", access.KindComment)
	return path, id, err
}

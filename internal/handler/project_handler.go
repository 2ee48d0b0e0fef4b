package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	List(ctx context.Context, p access.Principal, lang string) ([]*model.Project, error)
	Get(ctx context.Context, p access.Principal, id, lang string) (*model.Project, error)
	Create(ctx context.Context, p access.Principal, in project.CreateInput) (*model.Project, error)
	UpdateInfo(ctx context.Context, p access.Principal, id string, info model.ProjectInfo) error
	Delete(ctx context.Context, p access.Principal, id string) error
	Publish(ctx context.Context, p access.Principal, id string, published bool) error
	AddAdmin(ctx context.Context, p access.Principal, id, username string) error
	RemoveAdmin(ctx context.Context, p access.Principal, id, username string) error
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service   ProjectServiceInterface
	languages Languages
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface, languages Languages) *ProjectHandler {
	return &ProjectHandler{service: service, languages: languages}
}

type projectInfoBody struct {
	Lang        string `json:"lang" validate:"required,bcp47_language_tag"`
	Name        string `json:"name" validate:"required,max=255"`
	Abstract    string `json:"abstract,omitempty" validate:"max=1024"`
	Description string `json:"description,omitempty" validate:"max=10000"`
}

type createProjectRequest struct {
	ID        string          `json:"id" validate:"required,min=2,max=64,printascii,excludesall=/?#% "`
	Info      projectInfoBody `json:"info" validate:"required"`
	Admins    []string        `json:"admins" validate:"dive,required"`
	Published bool            `json:"published"`
}

type projectResponse struct {
	ID              string          `json:"id"`
	Published       bool            `json:"published"`
	DefaultLanguage string          `json:"default_language"`
	Info            projectInfoBody `json:"info"`
	Admins          []string        `json:"admins"`
	CreatedAt       time.Time       `json:"created_at"`
}

type projectListResponse struct {
	Items []projectResponse `json:"items"`
}

func toProjectResponse(p *model.Project) projectResponse {
	admins := p.Admins
	if admins == nil {
		admins = []string{}
	}
	return projectResponse{
		ID:              p.ID,
		Published:       p.Published,
		DefaultLanguage: p.DefaultLanguage,
		Info: projectInfoBody{
			Lang:        p.Info.Lang,
			Name:        p.Info.Name,
			Abstract:    p.Info.Abstract,
			Description: p.Info.Description,
		},
		Admins:    admins,
		CreatedAt: p.CreatedAt,
	}
}

// List は閲覧できるプロジェクトの一覧を返す。
// GET /projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	lang, err := negotiate(w, r, h.languages)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	projects, err := h.service.List(r.Context(), middleware.PrincipalFromContext(r.Context()), lang)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := projectListResponse{Items: make([]projectResponse, len(projects))}
	for i, p := range projects {
		resp.Items[i] = toProjectResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はプロジェクトを取得する。
// GET /projects/{project}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	lang, err := negotiate(w, r, h.languages)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	p, err := h.service.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), lang)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// Create はプロジェクトを作成する。
// POST /projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	p, err := h.service.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), project.CreateInput{
		ID:              req.ID,
		DefaultLanguage: req.Info.Lang,
		Info:            toProjectInfo(req.Info),
		Admins:          req.Admins,
		Published:       req.Published,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/projects/"+url.PathEscape(p.ID))
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// Modify は言語別情報を作成または更新する。
// PATCH /projects/{project}
func (h *ProjectHandler) Modify(w http.ResponseWriter, r *http.Request) {
	var req projectInfoBody
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	err := h.service.UpdateInfo(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), toProjectInfo(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete はプロジェクトを非公開にする。
// DELETE /projects/{project}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish は公開状態を変更する。
// POST /projects/{project}/publish?publish=true|false
func (h *ProjectHandler) Publish(w http.ResponseWriter, r *http.Request) {
	published, err := publishParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.Publish(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), published); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAdmin は管理者を追加する。
// POST /projects/{project}/admins?username=xxx
func (h *ProjectHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if err := validateVar("username", username, "required"); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.AddAdmin(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), username); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RemoveAdmin は管理者を削除する。
// DELETE /projects/{project}/admins?username=xxx
func (h *ProjectHandler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if err := validateVar("username", username, "required"); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.RemoveAdmin(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "project"), username); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toProjectInfo(b projectInfoBody) model.ProjectInfo {
	return model.ProjectInfo{
		Lang:        b.Lang,
		Name:        b.Name,
		Abstract:    b.Abstract,
		Description: b.Description,
	}
}

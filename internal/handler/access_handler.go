package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
)

// AccessChecker は名前で指定したポリシーを判定する。
type AccessChecker interface {
	CheckAccess(ctx context.Context, policyName string, principal access.Principal, ref access.Ref) (access.Status, error)
}

// AccessHandler はクライアントがUIの表示制御に使うポリシー判定エンドポイント。
type AccessHandler struct {
	checker AccessChecker
}

// NewAccessHandler はAccessHandlerを生成する。
func NewAccessHandler(checker AccessChecker) *AccessHandler {
	return &AccessHandler{checker: checker}
}

type accessResponse struct {
	Policy string `json:"policy"`
	Status string `json:"status"`
}

// Check はポリシーを判定し、許可された場合は解決されたアクセス状態を返す。
// 拒否された場合はポリシーのエラー対応に従ったステータスを返す。
// GET /access/{policy}?project=xxx&site=1&memory=2&comment=3
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	policy := chi.URLParam(r, "policy")
	status, err := h.checker.CheckAccess(r.Context(), policy, middleware.PrincipalFromContext(r.Context()), ref)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Policy: policy, Status: status.String()})
}

// refFromQuery は最も深く指定された階層のRefを組み立てる。
func refFromQuery(r *http.Request) (access.Ref, error) {
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		return access.Ref{}, model.NewInvalidRequestError("invalid field: project")
	}

	var ids [3]int64
	for i, name := range []string{"site", "memory", "comment"} {
		raw := q.Get(name)
		if raw == "" {
			break
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return access.Ref{}, model.NewInvalidRequestError("invalid field: " + name)
		}
		ids[i] = id
	}

	switch {
	case ids[2] != 0:
		return access.CommentRef(project, ids[0], ids[1], ids[2]), nil
	case ids[1] != 0:
		return access.MemoryRef(project, ids[0], ids[1]), nil
	case ids[0] != 0:
		return access.SiteRef(project, ids[0]), nil
	default:
		return access.ProjectRef(project), nil
	}
}

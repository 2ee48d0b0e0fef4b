// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Languages はリクエストヘッダーから応答言語を決定する。
type Languages interface {
	Match(header string) (string, bool)
	Resolve(header string) string
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// setCredential はクレデンシャルをAuthorizationレスポンスヘッダーに設定する。
func setCredential(w http.ResponseWriter, credential string) {
	w.Header().Set("Authorization", middleware.AuthorizationScheme+" "+credential)
}

// decodeValidate はJSONボディをデコードし、validateタグで検証する。
func decodeValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewInvalidRequestError("invalid field: " + verrs[0].Field())
		}
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// validateVar は単一の値をvalidateタグで検証する。
func validateVar(field, value, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return model.NewInvalidRequestError("invalid field: " + field)
	}
	return nil
}

// idParam はURLパラメータを正の整数として取り出す。
// 数値でないIDは存在しないリソースとして扱う。
func idParam(r *http.Request, name string, kind access.Kind) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewNotFoundError(kind.String())
	}
	return id, nil
}

// publishParam は?publish=クエリを解釈する。省略時はtrue。
func publishParam(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("publish")
	if raw == "" {
		return true, nil
	}
	published, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewInvalidRequestError("invalid field: publish")
	}
	return published, nil
}

// negotiate はAccept-Languageから応答言語を決め、Content-Languageに設定する。
func negotiate(w http.ResponseWriter, r *http.Request, languages Languages) (string, error) {
	header := r.Header.Get("Accept-Language")
	lang, ok := languages.Match(header)
	if !ok {
		return "", model.NewUnsupportedLanguageError(header)
	}
	w.Header().Set("Content-Language", lang)
	return lang, nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotModified) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if errors.Is(err, access.ErrDenied) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Resource"))
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

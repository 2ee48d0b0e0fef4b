// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrNotModified は要求された状態が既に成立しており、何も変更しなかったことを表す。
var ErrNotModified = errors.New("not modified")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, access, validation, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeIntegrityAnomaly      = "INTEGRITY_ANOMALY"
	ErrCodeUnsupportedLanguage   = "UNSUPPORTED_LANGUAGE"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeNotVerified           = "NOT_VERIFIED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
)

// NewNotFoundError は対象リソースが存在しない（または見えない）場合のエラーを生成する。
// resourceには "Project" や "Memory" などのリソース名を渡す。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Category: "access",
		Action:   "URLとリソースIDを確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// statusには判定時に解決されたアクセス状態を渡す（診断用）。
func NewForbiddenError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Not enough privileges (%s)", status),
		Category: "access",
		Action:   "プロジェクト管理者に権限の付与を依頼してください。",
	}
}

// NewConflictError は一意制約に抵触する作成要求のエラーを生成する。
func NewConflictError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("%s exists", resource),
		Category: "content",
		Action:   "別の識別子を指定してください。",
	}
}

// NewIntegrityAnomalyError は公開済みリソースのデフォルト言語情報が欠落している場合のエラーを生成する。
func NewIntegrityAnomalyError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrityAnomaly,
		Message:  fmt.Sprintf("%s is missing default localization", resource),
		Category: "system",
		Action:   "管理者にデフォルト言語の情報を登録するよう依頼してください。",
	}
}

// NewUnsupportedLanguageError は未対応の言語が要求された場合のエラーを生成する。
func NewUnsupportedLanguageError(lang string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedLanguage,
		Message:  fmt.Sprintf("対応していない言語です: %s", lang),
		Category: "validation",
		Action:   "対応言語（fi, en など）を指定してください。",
	}
}

// NewRateLimitedError は同一宛先へのログインメール送信が制限中の場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "ログインメールは既に送信されています。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewDependencyUnavailableError は外部依存サービス（ユーザー名生成、メール送信）が利用できない場合のエラーを生成する。
func NewDependencyUnavailableError(dependency string) *APIError {
	return &APIError{
		Code:     ErrCodeDependencyUnavailable,
		Message:  fmt.Sprintf("依存サービスが利用できません: %s", dependency),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthenticatedError は認証が必要なエンドポイントに未認証でアクセスした場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はユーザー名・パスワードが一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotVerifiedError はメールアドレス未確認のユーザーがパスワードログインした場合のエラーを生成する。
func NewNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotVerified,
		Message:  "User email not verified",
		Category: "auth",
		Action:   "確認メールのリンクからメールアドレスを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ユーザー名を確認してください。",
	}
}

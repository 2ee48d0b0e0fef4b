// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Emailはパスワード未設定のユーザー（メールログイン・OAuth）でも必ず設定される。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Verified     bool
	Superuser    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Purpose はメール検証トークンの用途を表す。
type Purpose string

const (
	// PurposeLogin はメールログイン用のトークンを示す。
	PurposeLogin Purpose = "login"
	// PurposeVerify は登録時のメールアドレス確認用のトークンを示す。
	PurposeVerify Purpose = "verify"
)

// EmailVerifier はメールで送信したワンタイムトークンのハッシュを表す。
// 生のトークンは保存しない。
type EmailVerifier struct {
	ID        int64
	UserID    string
	TokenHash string
	Purpose   Purpose
	CreatedAt time.Time
}

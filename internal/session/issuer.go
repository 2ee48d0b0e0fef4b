// Package session はログインセッションの発行・検証・失効を提供する。
//
// セッションはDBに保存され、クライアントにはセッションIDをjtiに含む
// HS256署名付きトークン（クレデンシャル）を返す。失効はDB行の削除で行う。
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
)

// ErrInvalidCredential はクレデンシャルが不正・期限切れ・失効済みであることを表す。
var ErrInvalidCredential = errors.New("invalid credential")

// Config はセッション発行の設定。
type Config struct {
	Secret     []byte
	MaxAge     time.Duration
	TokenBytes int
}

// Issuer はセッションを発行・検証する。
type Issuer struct {
	sessions repository.SessionRepository
	cfg      Config
	now      func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(sessions repository.SessionRepository, cfg Config) *Issuer {
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = 32
	}
	return &Issuer{sessions: sessions, cfg: cfg, now: time.Now}
}

// Issue はuserIDのセッションを作成し、クレデンシャルを返す。
func (i *Issuer) Issue(ctx context.Context, userID string) (string, *model.Session, error) {
	credential, s, err := i.Prepare(userID)
	if err != nil {
		return "", nil, err
	}
	if err := i.sessions.Create(ctx, s); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}
	return credential, s, nil
}

// Prepare はセッションを生成してクレデンシャルに署名する。セッションは保存しない。
// 呼び出し側は他の更新と同じトランザクションでセッションを保存すること。
// 保存されるまでクレデンシャルはResolveで無効と判定される。
func (i *Issuer) Prepare(userID string) (string, *model.Session, error) {
	// 1. セッションIDの生成
	id, err := NewToken(i.cfg.TokenBytes)
	if err != nil {
		return "", nil, err
	}

	now := i.now()
	s := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(i.cfg.MaxAge),
		CreatedAt: now,
	}

	// 2. クレデンシャルへの署名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	})
	credential, err := token.SignedString(i.cfg.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return credential, s, nil
}

// Resolve はクレデンシャルを検証し、有効なセッションを返す。
// 署名不正・期限切れ・失効済みの場合はErrInvalidCredentialを返す。
func (i *Issuer) Resolve(ctx context.Context, credential string) (*model.Session, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(t *jwt.Token) (any, error) { return i.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	s, err := i.sessions.FindByID(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil || s.UserID != claims.Subject {
		return nil, ErrInvalidCredential
	}

	return s, nil
}

// Revoke はクレデンシャルのセッションを失効させる。
func (i *Issuer) Revoke(ctx context.Context, credential string) error {
	s, err := i.Resolve(ctx, credential)
	if err != nil {
		return err
	}
	if err := i.sessions.DeleteByID(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAll はユーザーの全セッションを失効させる。
func (i *Issuer) RevokeAll(ctx context.Context, userID string) error {
	if err := i.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

// NewToken はnバイトの暗号論的乱数をURLセーフなBase64文字列で返す。
func NewToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

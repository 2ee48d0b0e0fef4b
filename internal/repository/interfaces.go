// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// isUniqueViolation はPostgreSQLの一意制約違反（SQLSTATE 23505）かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名またはメールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
	// FindByIdentity は外部IdPの識別子に紐付いたユーザーを取得する。見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
	// CreateWithVerifier はユーザーとメール検証トークンを同一トランザクションで作成する。
	CreateWithVerifier(ctx context.Context, user *model.User, verifier *model.EmailVerifier) error

	// UpdateUsername はユーザー名を変更する。重複時はErrDuplicateを返す。
	UpdateUsername(ctx context.Context, id, username string) error
	// UpdateEmail はメールアドレスを変更する。重複時はErrDuplicateを返す。
	UpdateEmail(ctx context.Context, id, email string) error
	// UpdatePasswordHash はパスワードハッシュを変更する。
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、user_email_verifiersはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// VerifierRepository はメール検証トークンの永続化インターフェース。
type VerifierRepository interface {
	// Create は検証トークンのハッシュを保存する。
	Create(ctx context.Context, verifier *model.EmailVerifier) error
	// Consume はnotBefore以降に作成された一致するトークンを削除し、ユーザーを確認済みにする。
	// 削除と確認済み化は同一トランザクションで行い、同じトークンを2回消費することはできない。
	// sessionがnilでなければ同じトランザクションで保存し、失敗時はトークンも残る。
	// 一致するトークンがない場合はfalseを返す。
	Consume(ctx context.Context, userID, tokenHash string, purpose model.Purpose, notBefore time.Time, session *model.Session) (bool, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// Get はプロジェクトをlangの情報付きで取得する。langの情報がない場合はデフォルト言語の情報を使う。
	// 見つからない場合はnilを返す。
	Get(ctx context.Context, id, lang string) (*model.Project, error)
	// ListVisible はpから見えるプロジェクトの一覧を返す。
	ListVisible(ctx context.Context, p access.Principal, lang string) ([]*model.Project, error)
	// Create はプロジェクトとデフォルト言語の情報、管理者を同一トランザクションで作成する。
	Create(ctx context.Context, project *model.Project, adminIDs []string) error
	// UpsertInfo は言語別情報を作成または更新する。
	UpsertInfo(ctx context.Context, id string, info model.ProjectInfo) error
	// SetPublished は公開状態を変更する。状態が変わった場合はtrueを返す。
	SetPublished(ctx context.Context, id string, published bool) (bool, error)
	// AddAdmin は管理者を追加する。既に管理者の場合はErrDuplicateを返す。
	AddAdmin(ctx context.Context, id, userID string) error
	// RemoveAdmin は管理者を削除する。管理者でない場合も成功する。
	RemoveAdmin(ctx context.Context, id, userID string) error
}

// SiteRepository はサイトの永続化インターフェース。
type SiteRepository interface {
	Get(ctx context.Context, project string, id int64) (*model.Site, error)
	// List はプロジェクト配下のサイトを返す。includeHiddenがfalseの場合は公開済みと viewerID の投稿のみ。
	List(ctx context.Context, project, viewerID string, includeHidden bool) ([]*model.Site, error)
	Create(ctx context.Context, site *model.Site) error
	SetPublished(ctx context.Context, id int64, published bool) (bool, error)
	Delete(ctx context.Context, id int64) error
}

// MemoryRepository は思い出の永続化インターフェース。
type MemoryRepository interface {
	Get(ctx context.Context, site, id int64) (*model.Memory, error)
	List(ctx context.Context, site int64, viewerID string, includeHidden bool) ([]*model.Memory, error)
	Create(ctx context.Context, memory *model.Memory) error
	// Update はタイトルと本文を更新する。
	Update(ctx context.Context, memory *model.Memory) error
	SetPublished(ctx context.Context, id int64, published bool) (bool, error)
	Delete(ctx context.Context, id int64) error
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	Get(ctx context.Context, memory, id int64) (*model.Comment, error)
	List(ctx context.Context, memory int64, viewerID string, includeHidden bool) ([]*model.Comment, error)
	Create(ctx context.Context, comment *model.Comment) error
	SetPublished(ctx context.Context, id int64, published bool) (bool, error)
	Delete(ctx context.Context, id int64) error
}

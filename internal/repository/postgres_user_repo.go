package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/database"
	"github.com/hitoshi/muistot/internal/model"
)

const userColumns = `id, username, email, COALESCE(password_hash, ''), verified, is_superuser, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByIdentity は外部IdPの識別子に紐付いたユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE id = (SELECT user_id FROM identities WHERE provider = $1 AND provider_user_id = $2)`,
		provider, providerUserID,
	)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Verified, &user.Superuser, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	return insertUser(ctx, r.db, user)
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil
	})
}

// CreateWithVerifier はユーザーとメール検証トークンを同一トランザクションで作成する。
// どちらかの挿入に失敗した場合は何も残らない。
func (r *PostgresUserRepo) CreateWithVerifier(ctx context.Context, user *model.User, verifier *model.EmailVerifier) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		return insertVerifier(ctx, tx, verifier)
	})
}

func insertUser(ctx context.Context, db database.DBTX, user *model.User) error {
	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, verified, is_superuser, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, passwordHash, user.Verified, user.Superuser, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateUsername はユーザー名を変更する。
func (r *PostgresUserRepo) UpdateUsername(ctx context.Context, id, username string) error {
	return r.updateColumn(ctx, "username", id, username)
}

// UpdateEmail はメールアドレスを変更する。
func (r *PostgresUserRepo) UpdateEmail(ctx context.Context, id, email string) error {
	return r.updateColumn(ctx, "email", id, email)
}

// UpdatePasswordHash はパスワードハッシュを変更する。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateColumn(ctx, "password_hash", id, hash)
}

// updateColumn はusersの1カラムを更新する。columnは呼び出し側の定数のみを渡すこと。
func (r *PostgresUserRepo) updateColumn(ctx context.Context, column, id, value string) error {
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = now() WHERE id = $1`, column),
		id, value,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/muistot/internal/database"
	"github.com/hitoshi/muistot/internal/model"
)

// PostgresVerifierRepo はPostgreSQLを使用したメール検証トークンリポジトリ。
type PostgresVerifierRepo struct {
	db *sql.DB
}

// NewPostgresVerifierRepo はPostgresVerifierRepoを生成する。
func NewPostgresVerifierRepo(db *sql.DB) *PostgresVerifierRepo {
	return &PostgresVerifierRepo{db: db}
}

// Create は検証トークンのハッシュを保存する。
func (r *PostgresVerifierRepo) Create(ctx context.Context, verifier *model.EmailVerifier) error {
	return insertVerifier(ctx, r.db, verifier)
}

func insertVerifier(ctx context.Context, db database.DBTX, verifier *model.EmailVerifier) error {
	err := db.QueryRowContext(ctx,
		`INSERT INTO user_email_verifiers (user_id, verifier, purpose, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		verifier.UserID, verifier.TokenHash, string(verifier.Purpose), verifier.CreatedAt,
	).Scan(&verifier.ID)
	if err != nil {
		return fmt.Errorf("failed to insert email verifier: %w", err)
	}
	return nil
}

// Consume は一致するトークンを1件削除し、ユーザーを確認済みにする。
// DELETE ... RETURNING により、同時に同じトークンを提示しても成功するのは1回のみ。
// sessionがnilでなければ同じトランザクションで保存する。
func (r *PostgresVerifierRepo) Consume(ctx context.Context, userID, tokenHash string, purpose model.Purpose, notBefore time.Time, session *model.Session) (bool, error) {
	consumed := false

	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`DELETE FROM user_email_verifiers
			 WHERE id = (
			     SELECT id FROM user_email_verifiers
			     WHERE user_id = $1 AND verifier = $2 AND purpose = $3 AND created_at > $4
			     LIMIT 1
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING id`,
			userID, tokenHash, string(purpose), notBefore,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to consume email verifier: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET verified = true, updated_at = now() WHERE id = $1 AND verified = false`,
			userID,
		); err != nil {
			return fmt.Errorf("failed to mark user verified: %w", err)
		}

		if session != nil {
			if err := insertSession(ctx, tx, session); err != nil {
				return err
			}
		}

		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return consumed, nil
}

// compile-time interface check
var _ VerifierRepository = (*PostgresVerifierRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/model"
)

const commentSelect = `
	SELECT c.id, c.memory_id, c.comment, c.published,
	       COALESCE(c.owner_id::text, ''), COALESCE(u.username, ''), c.created_at
	FROM comments c
	LEFT JOIN users u ON u.id = c.owner_id`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Get は思い出配下のコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) Get(ctx context.Context, memory, id int64) (*model.Comment, error) {
	comment, err := scanComment(r.db.QueryRowContext(ctx, commentSelect+` WHERE c.memory_id = $1 AND c.id = $2`, memory, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return comment, nil
}

// List は思い出配下のコメントを古い順に返す。
func (r *PostgresCommentRepo) List(ctx context.Context, memory int64, viewerID string, includeHidden bool) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		commentSelect+` WHERE c.memory_id = $1 AND (c.published OR $3 OR c.owner_id::text = $2) ORDER BY c.created_at, c.id`,
		memory, viewerID, includeHidden,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

func scanComment(row rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	if err := row.Scan(&c.ID, &c.MemoryID, &c.Body, &c.Published, &c.OwnerID, &c.Creator, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// Create はコメントを作成し、採番されたIDをcommentに設定する。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO comments (memory_id, comment, published, owner_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		comment.MemoryID, comment.Body, comment.Published, nullableID(comment.OwnerID),
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// SetPublished は公開状態を変更する。
func (r *PostgresCommentRepo) SetPublished(ctx context.Context, id int64, published bool) (bool, error) {
	return setPublished(ctx, r.db, "comments", id, published)
}

// Delete はコメントを削除する。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "comments", id)
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/model"
)

const memorySelect = `
	SELECT m.id, m.site_id, m.title, m.story, m.published,
	       COALESCE(m.owner_id::text, ''), COALESCE(u.username, ''), m.created_at, m.updated_at
	FROM memories m
	LEFT JOIN users u ON u.id = m.owner_id`

// PostgresMemoryRepo はPostgreSQLを使用した思い出リポジトリ。
type PostgresMemoryRepo struct {
	db *sql.DB
}

// NewPostgresMemoryRepo はPostgresMemoryRepoを生成する。
func NewPostgresMemoryRepo(db *sql.DB) *PostgresMemoryRepo {
	return &PostgresMemoryRepo{db: db}
}

// Get はサイト配下の思い出を取得する。見つからない場合はnilを返す。
func (r *PostgresMemoryRepo) Get(ctx context.Context, site, id int64) (*model.Memory, error) {
	memory, err := scanMemory(r.db.QueryRowContext(ctx, memorySelect+` WHERE m.site_id = $1 AND m.id = $2`, site, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find memory: %w", err)
	}
	return memory, nil
}

// List はサイト配下の思い出を新しい順に返す。
func (r *PostgresMemoryRepo) List(ctx context.Context, site int64, viewerID string, includeHidden bool) ([]*model.Memory, error) {
	rows, err := r.db.QueryContext(ctx,
		memorySelect+` WHERE m.site_id = $1 AND (m.published OR $3 OR m.owner_id::text = $2) ORDER BY m.created_at DESC, m.id DESC`,
		site, viewerID, includeHidden,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var memories []*model.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return memories, nil
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	m := &model.Memory{}
	err := row.Scan(&m.ID, &m.SiteID, &m.Title, &m.Story, &m.Published, &m.OwnerID, &m.Creator, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create は思い出を作成し、採番されたIDをmemoryに設定する。
func (r *PostgresMemoryRepo) Create(ctx context.Context, memory *model.Memory) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO memories (site_id, title, story, published, owner_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		memory.SiteID, memory.Title, memory.Story, memory.Published, nullableID(memory.OwnerID),
	).Scan(&memory.ID, &memory.CreatedAt, &memory.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// Update はタイトルと本文を更新する。
func (r *PostgresMemoryRepo) Update(ctx context.Context, memory *model.Memory) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE memories SET title = $2, story = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		memory.ID, memory.Title, memory.Story,
	).Scan(&memory.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	return nil
}

// SetPublished は公開状態を変更する。
func (r *PostgresMemoryRepo) SetPublished(ctx context.Context, id int64, published bool) (bool, error) {
	return setPublished(ctx, r.db, "memories", id, published)
}

// Delete は思い出を削除する。
func (r *PostgresMemoryRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "memories", id)
}

// compile-time interface check
var _ MemoryRepository = (*PostgresMemoryRepo)(nil)

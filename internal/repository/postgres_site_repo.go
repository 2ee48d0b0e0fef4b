package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/model"
)

const siteSelect = `
	SELECT s.id, p.name, s.name, s.latitude, s.longitude, s.published,
	       COALESCE(s.owner_id::text, ''), COALESCE(u.username, ''), s.created_at
	FROM sites s
	JOIN projects p ON p.id = s.project_id
	LEFT JOIN users u ON u.id = s.owner_id`

// PostgresSiteRepo はPostgreSQLを使用したサイトリポジトリ。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

// Get はプロジェクト配下のサイトを取得する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) Get(ctx context.Context, project string, id int64) (*model.Site, error) {
	site, err := scanSite(r.db.QueryRowContext(ctx, siteSelect+` WHERE p.name = $1 AND s.id = $2`, project, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find site: %w", err)
	}
	return site, nil
}

// List はプロジェクト配下のサイトを返す。
func (r *PostgresSiteRepo) List(ctx context.Context, project, viewerID string, includeHidden bool) ([]*model.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		siteSelect+` WHERE p.name = $1 AND (s.published OR $3 OR s.owner_id::text = $2) ORDER BY s.id`,
		project, viewerID, includeHidden,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sites: %w", err)
	}
	return sites, nil
}

func scanSite(row rowScanner) (*model.Site, error) {
	s := &model.Site{}
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Latitude, &s.Longitude, &s.Published, &s.OwnerID, &s.Creator, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create はサイトを作成し、採番されたIDをsiteに設定する。
func (r *PostgresSiteRepo) Create(ctx context.Context, site *model.Site) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sites (project_id, name, latitude, longitude, published, owner_id)
		 VALUES ((SELECT id FROM projects WHERE name = $1), $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		site.ProjectID, site.Name, site.Latitude, site.Longitude, site.Published, nullableID(site.OwnerID),
	).Scan(&site.ID, &site.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert site: %w", err)
	}
	return nil
}

// SetPublished は公開状態を変更する。
func (r *PostgresSiteRepo) SetPublished(ctx context.Context, id int64, published bool) (bool, error) {
	return setPublished(ctx, r.db, "sites", id, published)
}

// Delete はサイトを削除する。配下の思い出・コメントはCASCADE削除される。
func (r *PostgresSiteRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "sites", id)
}

// compile-time interface check
var _ SiteRepository = (*PostgresSiteRepo)(nil)

// nullableID は空文字列をNULLとして扱う。
func nullableID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// setPublished はtableの公開状態を変更し、変化があったかを返す。tableは定数のみを渡すこと。
func setPublished(ctx context.Context, db *sql.DB, table string, id int64, published bool) (bool, error) {
	result, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET published = $2 WHERE id = $1 AND published <> $2`, table),
		id, published,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update %s published: %w", table, err)
	}
	return changed(result)
}

// deleteByID はtableの1行を削除する。tableは定数のみを渡すこと。
func deleteByID(ctx context.Context, db *sql.DB, table string, id int64) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

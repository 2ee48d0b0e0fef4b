package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/access"
)

// PostgresStatusRepo はアクセス状態の解決に必要な事実をPostgreSQLから読み取る。
type PostgresStatusRepo struct {
	db *sql.DB
}

// NewPostgresStatusRepo はPostgresStatusRepoを生成する。
func NewPostgresStatusRepo(db *sql.DB) *PostgresStatusRepo {
	return &PostgresStatusRepo{db: db}
}

// Facts はrが指す1階層分の行の事実を返す。行がない場合はExists=falseを返す。
func (r *PostgresStatusRepo) Facts(ctx context.Context, ref access.Ref) (access.Facts, error) {
	var query string
	var args []any

	switch ref.Kind {
	case access.KindProject:
		query = `
			SELECT p.published, COALESCE(p.owner_id::text, ''),
			       NOT EXISTS (
			           SELECT 1 FROM project_information pi
			           WHERE pi.project_id = p.id AND pi.lang_id = p.default_language_id
			       )
			FROM projects p
			WHERE p.name = $1`
		args = []any{ref.Project}
	case access.KindSite:
		query = `
			SELECT s.published, COALESCE(s.owner_id::text, ''), false
			FROM sites s
			JOIN projects p ON p.id = s.project_id
			WHERE p.name = $1 AND s.id = $2`
		args = []any{ref.Project, ref.Site}
	case access.KindMemory:
		query = `
			SELECT m.published, COALESCE(m.owner_id::text, ''), false
			FROM memories m
			WHERE m.site_id = $1 AND m.id = $2`
		args = []any{ref.Site, ref.Memory}
	case access.KindComment:
		query = `
			SELECT c.published, COALESCE(c.owner_id::text, ''), false
			FROM comments c
			WHERE c.memory_id = $1 AND c.id = $2`
		args = []any{ref.Memory, ref.Comment}
	default:
		return access.Facts{}, fmt.Errorf("unknown resource kind: %d", ref.Kind)
	}

	facts := access.Facts{Exists: true}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&facts.Published, &facts.OwnerID, &facts.MissingDefaultInfo)
	if err == sql.ErrNoRows {
		return access.Facts{}, nil
	}
	if err != nil {
		return access.Facts{}, fmt.Errorf("failed to query %s facts: %w", ref.Kind, err)
	}

	return facts, nil
}

// IsProjectAdmin はユーザーがプロジェクトの管理者かどうかを返す。
func (r *PostgresStatusRepo) IsProjectAdmin(ctx context.Context, project, userID string) (bool, error) {
	var admin bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM project_admins pa
		     JOIN projects p ON p.id = pa.project_id
		     WHERE p.name = $1 AND pa.user_id::text = $2
		 )`,
		project, userID,
	).Scan(&admin)
	if err != nil {
		return false, fmt.Errorf("failed to check project admin: %w", err)
	}
	return admin, nil
}

// compile-time interface check
var _ access.FactSource = (*PostgresStatusRepo)(nil)

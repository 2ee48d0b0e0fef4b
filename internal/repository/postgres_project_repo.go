package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/database"
	"github.com/hitoshi/muistot/internal/model"
)

// projectSelect は言語別情報を1行に絞り込んでプロジェクトを取得するSELECT句。
// $1 は要求言語。要求言語の情報がなければデフォルト言語の情報を使う。
const projectSelect = `
	SELECT p.name, p.published, dl.lang, COALESCE(p.owner_id::text, ''), p.created_at, p.updated_at,
	       COALESCE(info.lang, ''), COALESCE(info.name, ''), COALESCE(info.abstract, ''), COALESCE(info.description, '')
	FROM projects p
	JOIN languages dl ON dl.id = p.default_language_id
	LEFT JOIN LATERAL (
	    SELECT l.lang, pi.name, pi.abstract, pi.description
	    FROM project_information pi
	    JOIN languages l ON l.id = pi.lang_id
	    WHERE pi.project_id = p.id AND (l.lang = $1 OR pi.lang_id = p.default_language_id)
	    ORDER BY (l.lang = $1) DESC
	    LIMIT 1
	) info ON true`

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// Get はプロジェクトと管理者一覧を取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) Get(ctx context.Context, id, lang string) (*model.Project, error) {
	project, err := scanProject(r.db.QueryRowContext(ctx, projectSelect+` WHERE p.name = $2`, lang, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT u.username
		 FROM project_admins pa
		 JOIN projects p ON p.id = pa.project_id
		 JOIN users u ON u.id = pa.user_id
		 WHERE p.name = $1
		 ORDER BY u.username`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project admins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan project admin: %w", err)
		}
		project.Admins = append(project.Admins, username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project admins: %w", err)
	}

	return project, nil
}

// ListVisible はpから見えるプロジェクトの一覧を返す。
// 公開済み、作成者または管理者であるもの、スーパーユーザーの場合は全件。
func (r *PostgresProjectRepo) ListVisible(ctx context.Context, p access.Principal, lang string) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		projectSelect+`
		WHERE p.published
		   OR $3
		   OR p.owner_id::text = $2
		   OR EXISTS (SELECT 1 FROM project_admins pa WHERE pa.project_id = p.id AND pa.user_id::text = $2)
		ORDER BY p.id`,
		lang, p.UserID, p.Superuser,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	err := row.Scan(
		&p.ID, &p.Published, &p.DefaultLanguage, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
		&p.Info.Lang, &p.Info.Name, &p.Info.Abstract, &p.Info.Description,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create はプロジェクト、デフォルト言語の情報、管理者を同一トランザクションで作成する。
// 同名のプロジェクトが存在する場合はErrDuplicateを返す。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project, adminIDs []string) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var ownerID sql.NullString
		if project.OwnerID != "" {
			ownerID = sql.NullString{String: project.OwnerID, Valid: true}
		}

		var pk int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO projects (name, published, default_language_id, owner_id)
			 VALUES ($1, $2, (SELECT id FROM languages WHERE lang = $3), $4)
			 RETURNING id, created_at, updated_at`,
			project.ID, project.Published, project.DefaultLanguage, ownerID,
		).Scan(&pk, &project.CreatedAt, &project.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}

		if err := upsertProjectInfo(ctx, tx, pk, project.Info); err != nil {
			return err
		}

		for _, userID := range adminIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_admins (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				pk, userID,
			); err != nil {
				return fmt.Errorf("failed to insert project admin: %w", err)
			}
		}
		return nil
	})
}

// UpsertInfo は言語別情報を作成または更新する。
func (r *PostgresProjectRepo) UpsertInfo(ctx context.Context, id string, info model.ProjectInfo) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var pk int64
		err := tx.QueryRowContext(ctx,
			`UPDATE projects SET updated_at = now() WHERE name = $1 RETURNING id`,
			id,
		).Scan(&pk)
		if err != nil {
			return fmt.Errorf("failed to touch project: %w", err)
		}
		return upsertProjectInfo(ctx, tx, pk, info)
	})
}

func upsertProjectInfo(ctx context.Context, db database.DBTX, projectPK int64, info model.ProjectInfo) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO project_information (project_id, lang_id, name, abstract, description)
		 VALUES ($1, (SELECT id FROM languages WHERE lang = $2), $3, $4, $5)
		 ON CONFLICT (project_id, lang_id) DO UPDATE
		 SET name = EXCLUDED.name, abstract = EXCLUDED.abstract, description = EXCLUDED.description`,
		projectPK, info.Lang, info.Name, info.Abstract, info.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project information: %w", err)
	}
	return nil
}

// SetPublished は公開状態を変更する。状態が変わった場合はtrueを返す。
func (r *PostgresProjectRepo) SetPublished(ctx context.Context, id string, published bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET published = $2, updated_at = now() WHERE name = $1 AND published <> $2`,
		id, published,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update project published: %w", err)
	}
	return changed(result)
}

// AddAdmin は管理者を追加する。既に管理者の場合はErrDuplicateを返す。
func (r *PostgresProjectRepo) AddAdmin(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_admins (project_id, user_id)
		 SELECT id, $2 FROM projects WHERE name = $1`,
		id, userID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to add project admin: %w", err)
	}
	return nil
}

// RemoveAdmin は管理者を削除する。
func (r *PostgresProjectRepo) RemoveAdmin(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM project_admins
		 WHERE project_id = (SELECT id FROM projects WHERE name = $1) AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove project admin: %w", err)
	}
	return nil
}

func changed(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)

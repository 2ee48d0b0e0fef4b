package access

import (
	"context"
	"fmt"

	"github.com/hitoshi/muistot/internal/model"
)

// Facts は1階層分のリソース行から読み取った事実を表す。
type Facts struct {
	Exists    bool
	Published bool
	OwnerID   string
	// MissingDefaultInfo はデフォルト言語の情報行が欠落していることを示す。
	MissingDefaultInfo bool
}

// FactSource はアクセス状態の解決に必要なデータ取得のインターフェース。
// repository.PostgresStatusRepoが実装する。
type FactSource interface {
	// Facts はrが指す1階層分のリソースの事実を返す。
	// rは祖先の識別子で絞り込まれ、別の親に属する行は存在しないものとして扱う。
	Facts(ctx context.Context, r Ref) (Facts, error)
	// IsProjectAdmin はユーザーがプロジェクトの管理者かどうかを返す。
	IsProjectAdmin(ctx context.Context, project, userID string) (bool, error)
}

// Resolver は主体とリソースからアクセス状態を解決するインターフェース。
type Resolver interface {
	Resolve(ctx context.Context, p Principal, r Ref) (Status, error)
}

// compile-time interface check
var _ Resolver = (*FactResolver)(nil)

// FactResolver はFactSourceの事実からアクセス状態を計算するResolver。
type FactResolver struct {
	facts FactSource
}

// NewResolver はFactResolverを生成する。
func NewResolver(facts FactSource) *FactResolver {
	return &FactResolver{facts: facts}
}

// Resolve はpから見たrのアクセス状態を返す。
//
// 祖先はルート側から順に解決し、いずれかが見えない場合はその祖先を名指しした
// NotFoundエラーを返す。rがコレクションの場合は最も深い祖先の状態を返す。
// 公開済みでデフォルト言語情報が欠落した行はIntegrityAnomalyエラーとなる。
// データ取得の失敗はポリシー判定と区別するためラップしてそのまま返す。
func (r *FactResolver) Resolve(ctx context.Context, p Principal, ref Ref) (Status, error) {
	chain := ref.chain()
	status := StatusDoesNotExist
	admin := false

	for i, level := range chain {
		leaf := i == len(chain)-1
		if leaf && level.IsCollection() {
			return status, nil
		}

		facts, err := r.facts.Facts(ctx, level)
		if err != nil {
			return StatusDoesNotExist, fmt.Errorf("failed to load %s facts: %w", level.Kind, err)
		}
		if facts.Exists && facts.Published && facts.MissingDefaultInfo {
			return StatusDoesNotExist, model.NewIntegrityAnomalyError(level.Kind.String())
		}

		// 管理者権限はプロジェクト単位で付与され、配下のリソースに継承される
		if level.Kind == KindProject && facts.Exists && p.Authenticated() {
			admin, err = r.facts.IsProjectAdmin(ctx, level.Project, p.UserID)
			if err != nil {
				return StatusDoesNotExist, fmt.Errorf("failed to check project admin: %w", err)
			}
		}

		s := classify(p, facts, admin)
		if !leaf && s == StatusDoesNotExist {
			return StatusDoesNotExist, &DenyError{
				Resource: level.Kind,
				Status:   s,
				Err:      model.NewNotFoundError(level.Kind.String()),
			}
		}
		status = s
	}

	return status, nil
}

// classify は1階層分の事実から状態を決める。
func classify(p Principal, f Facts, admin bool) Status {
	if !f.Exists {
		return StatusDoesNotExist
	}

	own := p.Authenticated() && f.OwnerID == p.UserID
	admin = admin && p.Authenticated()

	switch {
	case own && admin:
		return StatusOwnAndAdmin
	case own:
		return StatusOwn
	case admin:
		return StatusAdmin
	case f.Published || p.Superuser:
		return StatusPublished
	default:
		return StatusDoesNotExist
	}
}

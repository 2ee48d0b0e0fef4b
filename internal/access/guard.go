package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/muistot/internal/model"
)

// ErrDenied はエラーマッパーを持たないポリシーで拒否された場合に返される。
var ErrDenied = errors.New("access denied")

// DenyError はポリシー判定による拒否を表す。
// APIErrorをラップするため、errors.Asで*model.APIErrorとしても取り出せる。
type DenyError struct {
	Resource Kind
	Status   Status
	Err      *model.APIError
}

// Error はerrorインターフェースを実装する。
func (e *DenyError) Error() string {
	return e.Err.Error()
}

// Unwrap はラップしたAPIErrorを返す。
func (e *DenyError) Unwrap() error {
	return e.Err
}

// Mapper は拒否時のエラーを生成する関数。
type Mapper func(r Ref, s Status) error

// Policy は操作を許可するアクセス状態の集合と拒否時のエラー対応を表す。
type Policy struct {
	Name    string
	Allowed StatusSet
	// Invert がtrueの場合、Allowedに含まれない状態を許可する。
	Invert bool
	// Deny がnilの場合、拒否はErrDeniedとなる。
	Deny Mapper
}

// permits は判定規則を適用する。
// スーパーユーザーは存在するリソースに対して常に許可される。
func (p Policy) permits(principal Principal, s Status) bool {
	if s != StatusDoesNotExist && principal.Superuser {
		return true
	}
	if p.Invert {
		return !p.Allowed.Has(s)
	}
	return p.Allowed.Has(s)
}

// DecisionRecorder は判定結果を記録するインターフェース。
// metrics.Collectorが実装する。
type DecisionRecorder interface {
	RecordAccessDecision(policy string, allowed bool)
}

// Guard はリソース操作の前にポリシー判定を行う。
type Guard struct {
	resolver Resolver
	recorder DecisionRecorder
}

// NewGuard はGuardを生成する。recorderはnilでもよい。
func NewGuard(resolver Resolver, recorder DecisionRecorder) *Guard {
	return &Guard{resolver: resolver, recorder: recorder}
}

// Check はpolicyに従ってprincipalのrefに対する操作可否を判定する。
// 許可された場合は解決済みのStatusを返す。
// 解決自体の失敗（親の不在、整合性異常、インフラ障害）はそのまま返す。
func (g *Guard) Check(ctx context.Context, policy Policy, principal Principal, ref Ref) (Status, error) {
	s, err := g.resolver.Resolve(ctx, principal, ref)
	if err != nil {
		return StatusDoesNotExist, err
	}

	allowed := policy.permits(principal, s)
	if g.recorder != nil {
		g.recorder.RecordAccessDecision(policy.Name, allowed)
	}
	if allowed {
		return s, nil
	}

	slog.Info("access denied",
		slog.String("policy", policy.Name),
		slog.String("resource", ref.Kind.String()),
		slog.String("status", s.String()),
		slog.String("user_id", principal.UserID),
	)

	if policy.Deny == nil {
		return s, ErrDenied
	}
	return s, policy.Deny(ref, s)
}

// CheckAccess は名前で指定されたポリシーで判定する。
// 未知のポリシー名の場合はInvalidRequestエラーを返す。
func (g *Guard) CheckAccess(ctx context.Context, policyName string, principal Principal, ref Ref) (Status, error) {
	policy, ok := PolicyByName(policyName)
	if !ok {
		return StatusDoesNotExist, model.NewInvalidRequestError("unknown policy: " + policyName)
	}
	return g.Check(ctx, policy, principal, ref)
}

// Do はpolicyで判定し、許可された場合のみopを実行する。
// opには解決済みのStatusが明示的な引数として渡される。
func Do[T any](ctx context.Context, g *Guard, policy Policy, principal Principal, ref Ref, op func(ctx context.Context, status Status) (T, error)) (T, error) {
	s, err := g.Check(ctx, policy, principal, ref)
	if err != nil {
		var zero T
		return zero, err
	}
	return op(ctx, s)
}

// Run は値を返さない操作のためのDo。
func Run(ctx context.Context, g *Guard, policy Policy, principal Principal, ref Ref, op func(ctx context.Context, status Status) error) error {
	_, err := Do(ctx, g, policy, principal, ref, func(ctx context.Context, s Status) (struct{}, error) {
		return struct{}{}, op(ctx, s)
	})
	return err
}

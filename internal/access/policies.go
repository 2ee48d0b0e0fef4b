package access

import "github.com/hitoshi/muistot/internal/model"

// 名前付きポリシー
var (
	// RequireExists はリソースが見える場合に許可する。
	RequireExists = Policy{
		Name:    "require-exists",
		Allowed: Statuses(StatusDoesNotExist),
		Invert:  true,
		Deny:    DenyNotFound,
	}

	// RequireNotExists はリソースが存在しない場合に許可する（作成用）。
	RequireNotExists = Policy{
		Name:    "require-not-exists",
		Allowed: Statuses(StatusDoesNotExist),
		Deny:    DenyConflict,
	}

	// RequireParentVisible は祖先の解決のみを行い、常に許可する。
	RequireParentVisible = Policy{
		Name:    "require-parent-visible",
		Allowed: Statuses(),
		Invert:  true,
	}

	// RequireAdmin はプロジェクト管理者に許可する。
	RequireAdmin = Policy{
		Name:    "require-admin",
		Allowed: Statuses(StatusAdmin, StatusOwnAndAdmin),
		Deny:    DenyCommon,
	}

	// RequireOwn は作成者に許可する。
	RequireOwn = Policy{
		Name:    "require-own",
		Allowed: Statuses(StatusOwn, StatusOwnAndAdmin),
		Deny:    DenyCommon,
	}

	// RequirePublishedOrPrivileged は公開済み、または作成者・管理者に許可する。
	RequirePublishedOrPrivileged = Policy{
		Name:    "require-published-or-privileged",
		Allowed: Statuses(StatusPublished, StatusOwn, StatusAdmin, StatusOwnAndAdmin),
		Deny:    DenyCommon,
	}

	// RequireOwnOrAdmin は作成者または管理者に許可する。
	RequireOwnOrAdmin = Policy{
		Name:    "require-own-or-admin",
		Allowed: Statuses(StatusOwn, StatusAdmin, StatusOwnAndAdmin),
		Deny:    DenyCommon,
	}

	// RequireSuperuser はスーパーユーザーのみに許可する。
	RequireSuperuser = Policy{
		Name:    "require-superuser-only",
		Allowed: Statuses(),
		Deny:    DenyCommon,
	}
)

var policiesByName = map[string]Policy{
	RequireExists.Name:                RequireExists,
	RequireNotExists.Name:             RequireNotExists,
	RequireParentVisible.Name:         RequireParentVisible,
	RequireAdmin.Name:                 RequireAdmin,
	RequireOwn.Name:                   RequireOwn,
	RequirePublishedOrPrivileged.Name: RequirePublishedOrPrivileged,
	RequireOwnOrAdmin.Name:            RequireOwnOrAdmin,
	RequireSuperuser.Name:             RequireSuperuser,
}

// PolicyByName は名前からポリシーを引く。
func PolicyByName(name string) (Policy, bool) {
	p, ok := policiesByName[name]
	return p, ok
}

// DenyCommon は共通のエラー対応。
// 存在しない場合はNotFound、それ以外はStatusを含むForbiddenを返す。
func DenyCommon(r Ref, s Status) error {
	if s == StatusDoesNotExist {
		return DenyNotFound(r, s)
	}
	return &DenyError{Resource: r.Kind, Status: s, Err: model.NewForbiddenError(s.String())}
}

// DenyNotFound はNotFoundを返す。
func DenyNotFound(r Ref, s Status) error {
	return &DenyError{Resource: r.Kind, Status: s, Err: model.NewNotFoundError(r.Kind.String())}
}

// DenyConflict はConflictを返す。
func DenyConflict(r Ref, s Status) error {
	return &DenyError{Resource: r.Kind, Status: s, Err: model.NewConflictError(r.Kind.String())}
}

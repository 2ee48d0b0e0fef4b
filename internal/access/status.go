// Package access はリソースに対するアクセス状態の解決と、操作前のポリシー判定を提供する。
//
// アクセス状態（Status）はリクエストごとに計算され、永続化されない。
// 判定は集合の所属のみで行い、状態間の大小比較は行わない。
package access

// Status は主体とリソースの関係を表す。
type Status int

const (
	// StatusDoesNotExist はリソースが存在しない、または主体から見えないことを示す。
	StatusDoesNotExist Status = iota
	// StatusPublished はリソースが公開済みで主体から閲覧できることを示す。
	StatusPublished
	// StatusOwn は主体がリソースの作成者であることを示す。
	StatusOwn
	// StatusAdmin は主体がリソースを含むプロジェクトの管理者であることを示す。
	StatusAdmin
	// StatusOwnAndAdmin は作成者かつ管理者であることを示す。
	StatusOwnAndAdmin
)

// String は診断用の名前を返す。
func (s Status) String() string {
	switch s {
	case StatusDoesNotExist:
		return "DOES_NOT_EXIST"
	case StatusPublished:
		return "PUBLISHED"
	case StatusOwn:
		return "OWN"
	case StatusAdmin:
		return "ADMIN"
	case StatusOwnAndAdmin:
		return "OWN_AND_ADMIN"
	default:
		return "UNKNOWN"
	}
}

// Privileged は管理者権限を含む状態かどうかを返す。
func (s Status) Privileged() bool {
	return s == StatusAdmin || s == StatusOwnAndAdmin
}

// StatusSet はStatusの集合を表す。
type StatusSet uint8

// Statuses は指定されたStatusからなる集合を返す。
func Statuses(statuses ...Status) StatusSet {
	var set StatusSet
	for _, s := range statuses {
		set |= 1 << uint(s)
	}
	return set
}

// Has はsが集合に含まれるかどうかを返す。
func (set StatusSet) Has(s Status) bool {
	return set&(1<<uint(s)) != 0
}

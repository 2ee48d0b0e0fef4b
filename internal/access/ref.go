package access

// Principal はリクエストを行う主体を表す。
// UserIDが空の場合は匿名ユーザーを示す。
type Principal struct {
	UserID    string
	Username  string
	Superuser bool
}

// Anonymous は匿名の主体を返す。
func Anonymous() Principal {
	return Principal{}
}

// Authenticated は認証済みの主体かどうかを返す。
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// Kind はリソース階層の種別を表す。
type Kind int

const (
	// KindProject はプロジェクトを示す。
	KindProject Kind = iota + 1
	// KindSite はサイトを示す。
	KindSite
	// KindMemory は思い出を示す。
	KindMemory
	// KindComment はコメントを示す。
	KindComment
)

// String はエラーメッセージに使うリソース名を返す。
func (k Kind) String() string {
	switch k {
	case KindProject:
		return "Project"
	case KindSite:
		return "Site"
	case KindMemory:
		return "Memory"
	case KindComment:
		return "Comment"
	default:
		return "Resource"
	}
}

// Ref はプロジェクト → サイト → 思い出 → コメントの階層上のリソースを指す。
// 末端のIDがゼロ値の場合はコレクション（一覧・作成の対象）を指す。
type Ref struct {
	Kind    Kind
	Project string
	Site    int64
	Memory  int64
	Comment int64
}

// ProjectRef はプロジェクトを指すRefを返す。
func ProjectRef(project string) Ref {
	return Ref{Kind: KindProject, Project: project}
}

// SiteRef はサイトを指すRefを返す。
func SiteRef(project string, site int64) Ref {
	return Ref{Kind: KindSite, Project: project, Site: site}
}

// MemoryRef は思い出を指すRefを返す。
func MemoryRef(project string, site, memory int64) Ref {
	return Ref{Kind: KindMemory, Project: project, Site: site, Memory: memory}
}

// CommentRef はコメントを指すRefを返す。
func CommentRef(project string, site, memory, comment int64) Ref {
	return Ref{Kind: KindComment, Project: project, Site: site, Memory: memory, Comment: comment}
}

// Projects はプロジェクト一覧を指すRefを返す。
func Projects() Ref {
	return Ref{Kind: KindProject}
}

// Sites はプロジェクト配下のサイト一覧を指すRefを返す。
func Sites(project string) Ref {
	return Ref{Kind: KindSite, Project: project}
}

// Memories はサイト配下の思い出一覧を指すRefを返す。
func Memories(project string, site int64) Ref {
	return Ref{Kind: KindMemory, Project: project, Site: site}
}

// Comments は思い出配下のコメント一覧を指すRefを返す。
func Comments(project string, site, memory int64) Ref {
	return Ref{Kind: KindComment, Project: project, Site: site, Memory: memory}
}

// IsCollection は末端のIDが空（コレクション）かどうかを返す。
func (r Ref) IsCollection() bool {
	switch r.Kind {
	case KindProject:
		return r.Project == ""
	case KindSite:
		return r.Site == 0
	case KindMemory:
		return r.Memory == 0
	case KindComment:
		return r.Comment == 0
	default:
		return true
	}
}

// truncate はrの祖先のうち種別kのRefを返す。
func (r Ref) truncate(k Kind) Ref {
	out := Ref{Kind: k, Project: r.Project}
	if k >= KindSite {
		out.Site = r.Site
	}
	if k >= KindMemory {
		out.Memory = r.Memory
	}
	if k >= KindComment {
		out.Comment = r.Comment
	}
	return out
}

// chain はルート側から順に祖先とr自身を並べたスライスを返す。
func (r Ref) chain() []Ref {
	refs := make([]Ref, 0, int(r.Kind))
	for k := KindProject; k < r.Kind; k++ {
		refs = append(refs, r.truncate(k))
	}
	return append(refs, r)
}

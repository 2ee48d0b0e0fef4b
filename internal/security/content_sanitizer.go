// Package security はユーザー投稿の無害化を提供する。
//
// 思い出の本文とコメントはbluemondayの許可リストポリシーで整形済みHTMLとして保存し、
// タイトルなどの1行テキストはタグをすべて取り除いて保存する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はユーザー投稿をサニタイズする。
type ContentSanitizer interface {
	// Sanitize は本文用のHTMLを許可リストに従って無害化する。
	Sanitize(rawHTML string) string
	// PlainText はタグをすべて取り除き、前後の空白を除いたテキストを返す。
	PlainText(raw string) string
}

type contentSanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
//
// 本文で許可するもの:
//   - 段落と改行、強調、リスト、引用: p, br, strong, em, ul, ol, li, blockquote
//   - リンク: a[href]（http/https/mailtoのみ、rel="nofollow noopener noreferrer"とtarget="_blank"を付与）
//
// 画像・スクリプト・スタイル・on*属性はすべて除去される。
func NewContentSanitizer() ContentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em", "ul", "ol", "li", "blockquote")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.RequireNoFollowOnLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &contentSanitizer{
		rich:  rich,
		plain: bluemonday.StrictPolicy(),
	}
}

func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

func (s *contentSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(s.plain.Sanitize(raw))
}

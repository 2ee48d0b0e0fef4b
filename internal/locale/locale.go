// Package locale はAccept-Language / Content-Languageヘッダーから応答言語を決定する。
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// Negotiator は対応言語の中から要求に最も近い言語を選ぶ。
type Negotiator struct {
	langs   []string
	matcher language.Matcher
}

// NewNegotiator はNegotiatorを生成する。defaultLangは常に対応言語に含まれる。
func NewNegotiator(defaultLang string, supported []string) *Negotiator {
	langs := []string{defaultLang}
	for _, l := range supported {
		l = strings.TrimSpace(l)
		if l != "" && l != defaultLang {
			langs = append(langs, l)
		}
	}

	tags := make([]language.Tag, len(langs))
	for i, l := range langs {
		tags[i] = language.Make(l)
	}

	return &Negotiator{langs: langs, matcher: language.NewMatcher(tags)}
}

// Default はデフォルト言語を返す。
func (n *Negotiator) Default() string {
	return n.langs[0]
}

// Supported はlangが対応言語かどうかを返す。
func (n *Negotiator) Supported(lang string) bool {
	for _, l := range n.langs {
		if l == lang {
			return true
		}
	}
	return false
}

// Match はヘッダー値から言語を選ぶ。
// ヘッダーが空の場合はデフォルト言語とtrueを返す。
// 対応言語に一致しない、または解析できない場合はデフォルト言語とfalseを返す。
func (n *Negotiator) Match(header string) (string, bool) {
	if strings.TrimSpace(header) == "" {
		return n.Default(), true
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return n.Default(), false
	}

	_, idx, confidence := n.matcher.Match(tags...)
	if confidence == language.No {
		return n.Default(), false
	}
	return n.langs[idx], true
}

// Resolve はヘッダー値から言語を選び、一致しない場合はデフォルト言語を返す。
func (n *Negotiator) Resolve(header string) string {
	lang, _ := n.Match(header)
	return lang
}

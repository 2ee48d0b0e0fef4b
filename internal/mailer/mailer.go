// Package mailer はログイン・確認メールの送信を提供する。
package mailer

import (
	"context"
	"fmt"
	"log/slog"
)

// テンプレート名
const (
	TemplateLogin  = "login"
	TemplateVerify = "verify"
)

// Payload はメールテンプレートに渡す値。
type Payload struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Verified bool   `json:"verified"`
	Lang     string `json:"lang"`
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, template, to string, payload Payload) error
}

// LogMailer はメールを送信せずに構造化ログへ出力する開発用の実装。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send はメール内容をDebugレベルで出力する。
func (m *LogMailer) Send(ctx context.Context, template, to string, payload Payload) error {
	m.logger.DebugContext(ctx, "mail dispatched",
		slog.String("template", template),
		slog.String("to", to),
		slog.String("user", payload.User),
		slog.String("token", payload.Token),
		slog.Bool("verified", payload.Verified),
		slog.String("lang", payload.Lang),
	)
	return nil
}

// New はdriver名に対応するMailerを生成する。
func New(driver string, logger *slog.Logger) (Mailer, error) {
	switch driver {
	case "log", "":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unknown mailer driver: %s", driver)
	}
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)

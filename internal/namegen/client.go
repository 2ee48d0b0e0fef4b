// Package namegen はユーザー名生成サービスのクライアントを提供する。
// 新規ユーザー作成時に一意なユーザー名を払い出すために使用する。
package namegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout は生成サービス呼び出しのデフォルトタイムアウト。
	DefaultTimeout = 5 * time.Second
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 4 << 10
)

var (
	// ErrExhausted は生成サービスが新しい名前を払い出せない状態（ロック・枯渇）を表す。
	ErrExhausted = errors.New("username generator exhausted")
	// ErrUnavailable は生成サービスに到達できない、または不正な応答を返した状態を表す。
	ErrUnavailable = errors.New("username generator unavailable")
)

// Client はユーザー名生成サービスのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientを生成する。
// endpointには生成サービスのベースURL（例: "http://username-generator"）を指定する。
// httpClientのTimeoutが未設定の場合はDefaultTimeoutを設定する。
func NewClient(endpoint string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
}

type generateResponse struct {
	Value string `json:"value"`
}

// Allocate は新しいユーザー名を1つ払い出す。
// 自動リトライは行わない。失敗時はErrExhaustedまたはErrUnavailableをラップしたエラーを返す。
func (c *Client) Allocate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("username generator request failed",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict, http.StatusGone, http.StatusLocked:
		c.logger.Warn("username generator is exhausted",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", ErrExhausted
	default:
		c.logger.Error("username generator returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}

	name := strings.TrimSpace(result.Value)
	if name == "" {
		return "", fmt.Errorf("%w: empty username", ErrUnavailable)
	}

	return name, nil
}

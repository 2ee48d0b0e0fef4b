// Package cleanup は期限切れのセッションとメール検証トークンの自動削除ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordCleanup(table string, deleted int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordCleanup(string, int64) {}

// target は1回の実行で処理する削除対象。
type target struct {
	table string
	query string
	args  func(j *Job) []any
}

var targets = []target{
	{
		table: "sessions",
		query: `DELETE FROM sessions WHERE expires_at < now()`,
		args:  func(*Job) []any { return nil },
	},
	{
		table: "user_email_verifiers",
		query: `DELETE FROM user_email_verifiers WHERE created_at < now() - $1::interval`,
		args: func(j *Job) []any {
			return []any{fmt.Sprintf("%d seconds", int64(j.VerifierRetention.Seconds()))}
		},
	},
}

// Job は期限切れデータの削除ジョブ。
// 削除対象がない場合もエラーにならず、何度実行しても結果は同じ。
type Job struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder

	// VerifierRetention はメール検証トークンの保持期間（デフォルト: 24時間）。
	VerifierRetention time.Duration
}

// NewJob は新しいJobを生成する。recorderがnilの場合は記録しない。
func NewJob(db Executor, logger *slog.Logger, recorder Recorder) *Job {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Job{
		db:                db,
		logger:            logger,
		recorder:          recorder,
		VerifierRetention: 24 * time.Hour,
	}
}

// Run は期限切れのセッションと保持期間を超えたメール検証トークンを削除する。
// 最初に失敗した対象でエラーを返し、残りの対象は処理しない。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	for _, t := range targets {
		result, err := j.db.ExecContext(ctx, t.query, t.args(j)...)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", t.table),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%sのクリーンアップに失敗: %w", t.table, err)
		}

		deletedCount, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		j.recorder.RecordCleanup(t.table, deletedCount)

		j.logger.Info("クリーンアップが完了しました",
			slog.String("table", t.table),
			slog.Int64("deleted_count", deletedCount),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Duration("verifier_retention", j.VerifierRetention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。個々の失敗はログに記録して次の周期を待つ。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました", slog.Duration("interval", interval))

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

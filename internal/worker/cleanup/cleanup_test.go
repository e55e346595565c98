package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// mockExecutor はExecutorのテスト用モック。クエリと引数を記録する。
type mockExecutor struct {
	execCalled bool
	query      string
	args       []any
	result     sql.Result
	err        error
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.execCalled = true
	m.query = query
	m.args = args
	return m.result, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// logEntries はJSONログを1行ずつ解析して返す。
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf), 0)

	if job.Retention != DefaultRetention {
		t.Errorf("Retention = %v, want %v", job.Retention, DefaultRetention)
	}
}

func TestCleanupJob_Run_DeletesByCollectedAt(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := NewCleanupJob(mock, newTestLogger(&buf), 48*time.Hour)
	fixed := time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !strings.Contains(mock.query, "DELETE FROM newsletters") || !strings.Contains(mock.query, "collected_at") {
		t.Errorf("想定外のクエリ: %s", mock.query)
	}
	if len(mock.args) != 1 {
		t.Fatalf("args = %v, want 1 arg", mock.args)
	}
	cutoff, ok := mock.args[0].(time.Time)
	if !ok {
		t.Fatalf("第1引数が time.Time ではない: %T", mock.args[0])
	}
	if want := time.Date(2024, 7, 8, 9, 0, 0, 0, time.UTC); !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	for _, n := range []int64{0, 42} {
		var buf bytes.Buffer
		job := NewCleanupJob(&mockExecutor{result: &fakeResult{rowsAffected: n}}, newTestLogger(&buf), time.Hour)

		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() がエラーを返した: %v", err)
		}

		found := false
		for _, entry := range logEntries(t, &buf) {
			if entry["deleted_count"] == float64(n) {
				if _, ok := entry["duration_ms"]; !ok {
					t.Error("ログに duration_ms が記録されていない")
				}
				found = true
			}
		}
		if !found {
			t.Errorf("ログに deleted_count=%d が記録されていない。ログ出力: %s", n, buf.String())
		}
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{err: sql.ErrConnDone}, newTestLogger(&buf), time.Hour)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{}}, newTestLogger(&buf), time.Hour)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
}

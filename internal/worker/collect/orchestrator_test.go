package collect

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/wellnesswire/internal/dedup"
	"github.com/hitoshi/wellnesswire/internal/enrich"
	"github.com/hitoshi/wellnesswire/internal/extract"
	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/persist"
	"github.com/hitoshi/wellnesswire/internal/repository"
	"github.com/hitoshi/wellnesswire/internal/worker/fetch"
)

// --- モック定義 ---

// mockSourceStore はSourceStoreのテスト用モック。
type mockSourceStore struct {
	sources []model.Source
	listErr error

	mu        sync.Mutex
	collected map[int64]time.Time
}

func (m *mockSourceStore) ListActive(_ context.Context) ([]model.Source, error) {
	return m.sources, m.listErr
}

func (m *mockSourceStore) UpdateLastCollected(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collected == nil {
		m.collected = make(map[int64]time.Time)
	}
	m.collected[id] = at
	return nil
}

func (m *mockSourceStore) collectedIDs() map[int64]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collected
}

// mockCreator はフィンガープリントの一意制約を模したpersist.Creator。
type mockCreator struct {
	createErr error

	mu      sync.Mutex
	records map[string]model.PersistedRecord
}

func (m *mockCreator) Create(_ context.Context, rec *model.PersistedRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]model.PersistedRecord)
	}
	if _, ok := m.records[rec.Fingerprint]; ok {
		return repository.ErrDuplicateFingerprint
	}
	m.records[rec.Fingerprint] = *rec
	return nil
}

func (m *mockCreator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// step はstubFetcherが返すエントリまたはエラー。
type step struct {
	entry model.RawEntry
	err   error
	// waitDone がtrueの場合、yieldの前にコンテキストの終了を待つ。
	waitDone bool
}

// stubFetcher はソース名ごとに固定のステップを返すFetcher。
type stubFetcher struct {
	steps map[string][]step

	mu     sync.Mutex
	pulled map[string]int
}

func (f *stubFetcher) Fetch(ctx context.Context, src model.Source) iter.Seq2[model.RawEntry, error] {
	return func(yield func(model.RawEntry, error) bool) {
		for _, s := range f.steps[src.Name] {
			if s.waitDone {
				<-ctx.Done()
			}
			f.mu.Lock()
			if f.pulled == nil {
				f.pulled = make(map[string]int)
			}
			f.pulled[src.Name]++
			f.mu.Unlock()
			if !yield(s.entry, s.err) {
				return
			}
		}
	}
}

func (f *stubFetcher) pulledCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled[name]
}

type fixture struct {
	sources *mockSourceStore
	fetcher *stubFetcher
	creator *mockCreator
	dedup   *dedup.MemoryStore
	logs    *bytes.Buffer
	orch    *Orchestrator
}

func newFixture(t *testing.T, sources []model.Source, steps map[string][]step, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sources: &mockSourceStore{sources: sources},
		fetcher: &stubFetcher{steps: steps},
		creator: &mockCreator{},
		dedup:   dedup.NewMemoryStore(30 * 24 * time.Hour),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(&syncWriter{w: f.logs}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.orch = NewOrchestrator(Deps{
		Sources:    f.sources,
		NewFetcher: func() fetch.Fetcher { return f.fetcher },
		Extractor:  extract.New(extract.DefaultSummaryLength),
		Relevance:  enrich.NewRelevanceFilter([]string{"요가", "명상", "스파", "yoga", "spa"}),
		Enricher:   enrich.NewEnricher([]string{"요가", "명상", "스파"}),
		Dedup:      f.dedup,
		Persister:  persist.New(f.creator),
		Logger:     logger,
	}, cfg)
	return f
}

// syncWriter は並行するワーカーからのログ書き込みを直列化する。
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func entry(title, content string) step {
	return step{entry: model.RawEntry{Title: title, Content: content, Link: "https://example.com/" + title}}
}

var baliEntry = entry("발리 요가 리트리트 7일 프로그램", "발리에서 요가와 명상, 그리고 스파")

// --- テスト ---

func TestRun_PersistsRelevantEntries(t *testing.T) {
	f := newFixture(t,
		[]model.Source{{ID: 1, Name: "Yoga Journal", Type: model.SourceTypeFeed, QualityWeight: 1}},
		map[string][]step{"Yoga Journal": {
			baliEntry,
			entry("Stock market weekly report", "Shares rose sharply on Monday"),
		}},
		Config{MaxConcurrent: 2},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.ItemsFetched != 2 || summary.ItemsPersisted != 1 || summary.ItemsErrored != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Sources) != 1 || summary.Sources[0].Relevant != 1 || summary.Sources[0].Enriched != 1 {
		t.Errorf("source stats = %+v", summary.Sources)
	}
	if summary.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want 1", summary.SuccessRate)
	}
	if f.creator.count() != 1 {
		t.Errorf("records = %d, want 1", f.creator.count())
	}
	if _, ok := f.sources.collectedIDs()[1]; !ok {
		t.Error("last_collectedが更新されるべき")
	}
}

func TestRun_DuplicateAcrossSources(t *testing.T) {
	f := newFixture(t,
		[]model.Source{
			{ID: 1, Name: "a", Type: model.SourceTypeFeed},
			{ID: 2, Name: "b", Type: model.SourceTypeFeed},
		},
		map[string][]step{
			"a": {baliEntry},
			"b": {baliEntry},
		},
		Config{MaxConcurrent: 2},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if f.creator.count() != 1 {
		t.Errorf("records = %d, want 1", f.creator.count())
	}
	if summary.ItemsPersisted != 1 || summary.ItemsDuplicate != 1 {
		t.Errorf("persisted=%d duplicate=%d, want 1/1", summary.ItemsPersisted, summary.ItemsDuplicate)
	}
	if summary.ItemsErrored != 0 || summary.SourcesFatal != 0 {
		t.Errorf("重複はエラーではない: errored=%d fatal=%d", summary.ItemsErrored, summary.SourcesFatal)
	}
}

func TestRun_ExtractionErrorCountsAndContinues(t *testing.T) {
	f := newFixture(t,
		[]model.Source{{ID: 1, Name: "feed", Type: model.SourceTypeFeed}},
		map[string][]step{"feed": {
			entry("", "요가 수업 안내"),
			baliEntry,
		}},
		Config{},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	st := summary.Sources[0]
	if st.Errored != 1 || st.Persisted != 1 || st.Fatal {
		t.Errorf("stats = %+v, want errored=1 persisted=1 fatal=false", st)
	}
}

func TestRun_FetchErrorIsFatalForSourceOnly(t *testing.T) {
	f := newFixture(t,
		[]model.Source{
			{ID: 1, Name: "down", Type: model.SourceTypeFeed},
			{ID: 2, Name: "up", Type: model.SourceTypeFeed},
		},
		map[string][]step{
			"down": {
				{err: &model.FetchError{Source: "down", StatusCode: 503, Err: errors.New("unavailable")}},
				baliEntry,
			},
			"up": {baliEntry},
		},
		Config{MaxConcurrent: 1},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.SourcesAttempted != 2 || summary.SourcesFatal != 1 {
		t.Errorf("attempted=%d fatal=%d, want 2/1", summary.SourcesAttempted, summary.SourcesFatal)
	}
	if summary.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", summary.SuccessRate)
	}
	if f.fetcher.pulledCount("down") != 1 {
		t.Errorf("FetchErrorの後は読み進めないべき: pulled=%d", f.fetcher.pulledCount("down"))
	}
	if summary.ItemsPersisted != 1 {
		t.Errorf("他のソースは処理されるべき: persisted=%d", summary.ItemsPersisted)
	}
}

func TestRun_ParseErrorContinues(t *testing.T) {
	f := newFixture(t,
		[]model.Source{{ID: 1, Name: "broken", Type: model.SourceTypeFeed}},
		map[string][]step{"broken": {
			{err: &model.ParseError{Source: "broken", Entry: "#1", Err: errors.New("bad xml")}},
			baliEntry,
		}},
		Config{},
	)

	summary, _ := f.orch.Run(context.Background(), RunOptions{})
	st := summary.Sources[0]
	if st.Errored != 1 || st.Persisted != 1 || st.Fatal {
		t.Errorf("stats = %+v", st)
	}
}

func TestRun_PersistenceFailureReleasesReservation(t *testing.T) {
	f := newFixture(t,
		[]model.Source{{ID: 1, Name: "feed", Type: model.SourceTypeFeed}},
		map[string][]step{"feed": {
			baliEntry,
			entry("Yoga for runners guide", "yoga stretches"),
		}},
		Config{},
	)
	f.creator.createErr = errors.New("connection refused")

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	st := summary.Sources[0]
	if !st.Fatal || st.Errored != 1 || st.Persisted != 0 {
		t.Errorf("stats = %+v, want fatal errored=1", st)
	}
	if f.fetcher.pulledCount("feed") != 1 {
		t.Errorf("保存失敗後はソースの処理を止めるべき: pulled=%d", f.fetcher.pulledCount("feed"))
	}

	// 予約が取り消されていれば次のランで保存できる
	f.creator.createErr = nil
	summary, err = f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.ItemsPersisted != 2 {
		t.Errorf("persisted = %d, want 2", summary.ItemsPersisted)
	}
}

func TestRun_DeadlineFinishesCurrentEntry(t *testing.T) {
	f := newFixture(t,
		[]model.Source{
			{ID: 1, Name: "slow", Type: model.SourceTypeFeed},
			{ID: 2, Name: "queued", Type: model.SourceTypeFeed},
		},
		map[string][]step{
			"slow": {
				baliEntry,
				{entry: model.RawEntry{Title: "Yoga for runners guide", Content: "yoga stretches"}, waitDone: true},
				entry("Spa weekend in Jeju island", "spa and sauna"),
			},
			"queued": {entry("Meditation apps compared", "명상 앱")},
		},
		Config{MaxConcurrent: 1, RunTimeout: 50 * time.Millisecond},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.SourcesAttempted != 1 {
		t.Errorf("期限後に待機中のソースは試行しないべき: attempted=%d", summary.SourcesAttempted)
	}
	// 期限到達時に受け取ったエントリは最後まで処理される
	if summary.ItemsPersisted != 2 {
		t.Errorf("persisted = %d, want 2", summary.ItemsPersisted)
	}
	if f.fetcher.pulledCount("slow") != 2 {
		t.Errorf("期限後は次のエントリを読まないべき: pulled=%d", f.fetcher.pulledCount("slow"))
	}
	if _, ok := f.sources.collectedIDs()[1]; !ok {
		t.Error("期限後でもlast_collectedは更新されるべき")
	}
}

func TestRun_DueOnly(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)
	f := newFixture(t,
		[]model.Source{
			{ID: 1, Name: "fresh", Type: model.SourceTypeFeed, Cadence: model.CadenceDaily, LastCollected: &recent},
			{ID: 2, Name: "stale", Type: model.SourceTypeFeed, Cadence: model.CadenceDaily, LastCollected: &old},
			{ID: 3, Name: "never", Type: model.SourceTypeFeed, Cadence: model.CadenceWeekly},
		},
		map[string][]step{},
		Config{},
	)

	summary, err := f.orch.Run(context.Background(), RunOptions{DueOnly: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.SourcesAttempted != 2 {
		t.Errorf("attempted = %d, want 2", summary.SourcesAttempted)
	}
	if _, ok := f.sources.collectedIDs()[1]; ok {
		t.Error("周期が経過していないソースは対象外であるべき")
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(t,
		[]model.Source{{ID: 1, Name: "blocking", Type: model.SourceTypeFeed}},
		nil,
		Config{},
	)
	f.orch.deps.NewFetcher = func() fetch.Fetcher {
		close(started)
		<-release
		return f.fetcher
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), RunOptions{})
		done <- err
	}()
	<-started

	if f.orch.State() != model.RunStateRunning {
		t.Errorf("State = %q, want running", f.orch.State())
	}
	if _, err := f.orch.Run(context.Background(), RunOptions{}); !errors.Is(err, model.ErrRunInProgress) {
		t.Errorf("実行中はErrRunInProgressを返すべき: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if f.orch.State() != model.RunStateCompleted {
		t.Errorf("State = %q, want completed", f.orch.State())
	}
	if _, ok := f.orch.LastSummary(); !ok {
		t.Error("完了後は集計を返すべき")
	}
}

func TestRun_ListActiveError(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.sources.listErr = errors.New("db down")

	if _, err := f.orch.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("ソース一覧の取得失敗はエラーを返すべき")
	}
	if _, ok := f.orch.LastSummary(); ok {
		t.Error("失敗したランの集計は保持しないべき")
	}
	if f.orch.State() == model.RunStateRunning {
		t.Error("失敗後は次のランを受け付けるべき")
	}
}

func TestRun_NoSources(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})

	summary, err := f.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.SourcesAttempted != 0 || summary.SuccessRate != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.Contains(f.logs.String(), "収集ランが完了しました") {
		t.Error("完了ログが出力されるべき")
	}
}

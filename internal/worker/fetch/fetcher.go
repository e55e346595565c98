// Package fetch はソースからの未加工エントリの取得を提供する。
// フィード（RSS/Atom）とHTMLページの2種類のフェッチャーと、HTTPステータスの分類を含む。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/politeness"
)

// acceptLanguage は韓国語を優先し、英語を許容する。
const acceptLanguage = "ko-KR,ko;q=0.9,en;q=0.8"

// ErrDisallowed はrobots.txtによりソースURLへのアクセスが禁止されていることを表す。
var ErrDisallowed = errors.New("robots.txtによりアクセスが禁止されています")

// Fetcher は1つのソースから未加工エントリの有限シーケンスを取得する。
// ソース全体に関わる失敗は*model.FetchErrorとしてyieldされ、シーケンスはそこで終わる。
// エントリ単位の失敗は*model.ParseErrorとしてyieldされ、シーケンスは継続する。
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) iter.Seq2[model.RawEntry, error]
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Observer はHTTP取得の結果を記録するインターフェース。
type Observer interface {
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordHTTPStatus(int)               {}
func (nopObserver) RecordFetchLatency(time.Duration) {}

// Options はHTTPクライアントの設定。
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
	Observer    Observer
}

// Client はSSRF検証・ホスト単位の待機・サイズ制限付きでHTTP GETを行う。
// 1回の収集ランごとに、そのランのゲートと組み合わせて生成する。
type Client struct {
	ssrfGuard   SSRFValidator
	gate        politeness.Authorizer
	httpClient  *http.Client
	userAgent   string
	maxBodySize int64
	observer    Observer
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(ssrfGuard SSRFValidator, gate politeness.Authorizer, opts Options) *Client {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Client{
		ssrfGuard:   ssrfGuard,
		gate:        gate,
		httpClient:  ssrfGuard.NewSafeClient(opts.Timeout),
		userAgent:   opts.UserAgent,
		maxBodySize: opts.MaxBodySize,
		observer:    observer,
	}
}

// Get はURLを取得してレスポンスボディを返す。
// リクエスト前に必ず同一ホストの最小間隔を待機する。失敗は全て*model.FetchErrorで返す。
func (c *Client) Get(ctx context.Context, src model.Source, rawURL, accept string) ([]byte, error) {
	fetchErr := func(status int, err error) error {
		return &model.FetchError{Source: src.Name, URL: rawURL, StatusCode: status, Err: err}
	}

	if err := c.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, fetchErr(0, fmt.Errorf("SSRF検証に失敗: %w", err))
	}

	if err := c.gate.Wait(ctx, politeness.HostKey(rawURL)); err != nil {
		return nil, fetchErr(0, fmt.Errorf("リクエスト間隔の待機を中断: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fetchErr(0, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", acceptLanguage)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fetchErr(0, fmt.Errorf("HTTPリクエスト失敗: %w", err))
	}
	defer resp.Body.Close()

	c.observer.RecordFetchLatency(time.Since(start))
	c.observer.RecordHTTPStatus(resp.StatusCode)

	if result := ClassifyHTTPStatus(resp.StatusCode); result != FetchResultOK {
		return nil, fetchErr(resp.StatusCode, fmt.Errorf("予期しないHTTPステータス (%s)", result))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fetchErr(resp.StatusCode, fmt.Errorf("レスポンスの読み込みに失敗: %w", err))
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, fetchErr(resp.StatusCode, fmt.Errorf("レスポンスサイズが上限（%dバイト）を超えています", c.maxBodySize))
	}
	return body, nil
}

// Registry はソース種別に応じてフェッチャーを選択する。
type Registry struct {
	fetchers map[model.SourceType]Fetcher
}

// NewRegistry はフィードとページのフェッチャーを登録したRegistryを生成する。
func NewRegistry(client *Client, logger *slog.Logger, pageOpts PageOptions) *Registry {
	r := &Registry{fetchers: make(map[model.SourceType]Fetcher)}
	r.Register(model.SourceTypeFeed, NewFeedFetcher(client, logger))
	r.Register(model.SourceTypePage, NewPageFetcher(client, logger, pageOpts))
	return r
}

// Register はソース種別に対するフェッチャーを登録する。既存の登録は上書きする。
func (r *Registry) Register(t model.SourceType, f Fetcher) {
	r.fetchers[t] = f
}

// Fetch はソース種別に対応するフェッチャーに処理を委譲する。
// 未登録の種別は*model.FetchErrorを1件yieldする。
func (r *Registry) Fetch(ctx context.Context, src model.Source) iter.Seq2[model.RawEntry, error] {
	f, ok := r.fetchers[src.Type]
	if !ok {
		return func(yield func(model.RawEntry, error) bool) {
			yield(model.RawEntry{}, &model.FetchError{
				Source: src.Name,
				URL:    src.URL,
				Err:    fmt.Errorf("未対応のソース種別: %q", src.Type),
			})
		}
	}
	return f.Fetch(ctx, src)
}

var _ Fetcher = (*Registry)(nil)

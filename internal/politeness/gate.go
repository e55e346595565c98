// Package politeness はクロール対象サイトへの礼儀正しいアクセスを保証する。
// robots.txtによるアクセス可否の判定と、ホストごとのリクエスト間隔の制御を行う。
package politeness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// maxRobotsSize はrobots.txtとして読み込む最大バイト数。
const maxRobotsSize = 512 * 1024

// Authorizer はURLへのアクセス可否を判定し、ホストごとの間隔を制御するインターフェース。
type Authorizer interface {
	Authorize(ctx context.Context, rawURL string) bool
	Wait(ctx context.Context, host string) error
}

// hostPolicy はホストごとのrobots.txt取得結果。
// dataがnilの場合は制限なし（全て許可）として扱う。
type hostPolicy struct {
	once sync.Once
	data *robotstxt.RobotsData
}

// Gate はrobots.txtの判定とホスト単位のレート制限を提供する。
// robots.txtはホストごとに1回だけ取得し、Gateの生存期間中キャッシュする。
// 収集ランごとに新しいGateを生成する。
type Gate struct {
	client    *http.Client
	userAgent string
	delay     time.Duration
	logger    *slog.Logger

	policyMu sync.Mutex
	policies map[string]*hostPolicy

	limiterMu sync.RWMutex
	limiters  map[string]*rate.Limiter
}

// NewGate は新しいGateを生成する。
// clientはrobots.txtの取得に使用する（本番ではSSRF防止付きクライアントを渡す）。
// delayは同一ホストへのリクエストの最小間隔。
func NewGate(client *http.Client, userAgent string, delay time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		client:    client,
		userAgent: userAgent,
		delay:     delay,
		logger:    logger,
		policies:  make(map[string]*hostPolicy),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// HostKey はURLからレート制限とキャッシュのキーに使うホスト（ポート込み、小文字）を返す。
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Authorize は設定されたUser-AgentでURLへのアクセスが許可されているかを返す。
// robots.txtの取得・解析に失敗した場合は警告をログに出して許可する。
func (g *Gate) Authorize(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	policy := g.policyFor(ctx, u)
	if policy.data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return policy.data.TestAgent(path, g.userAgent)
}

// Wait は同一ホストへの前回のリクエストから最小間隔が経過するまで待機する。
// ctxがキャンセルされた場合はctxのエラーを返す。
func (g *Gate) Wait(ctx context.Context, host string) error {
	if err := g.limiterFor(host).Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// policyFor はホストのrobots.txtを取得済みでなければ取得して返す。
// 同一ホストへの同時呼び出しでも取得は1回だけ行われる。
func (g *Gate) policyFor(ctx context.Context, u *url.URL) *hostPolicy {
	key := strings.ToLower(u.Host)

	g.policyMu.Lock()
	p, ok := g.policies[key]
	if !ok {
		p = &hostPolicy{}
		g.policies[key] = p
	}
	g.policyMu.Unlock()

	p.once.Do(func() {
		data, err := g.fetchRobots(ctx, u.Scheme, u.Host)
		if err != nil {
			perr := &model.PolicyFetchError{Host: key, Err: err}
			g.logger.Warn("robots.txtの取得に失敗したため許可として扱います",
				slog.String("host", key),
				slog.String("error", perr.Error()),
			)
			return
		}
		p.data = data
		g.applyCrawlDelay(key, data)
	})
	return p
}

// fetchRobots はrobots.txtを取得して解析する。
// 4xxはrobots.txtなし（全て許可）として扱い、5xxとネットワークエラーはエラーを返す。
func (g *Gate) fetchRobots(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	if err := g.Wait(ctx, strings.ToLower(host)); err != nil {
		return nil, err
	}

	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots.txtがサーバーエラーを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("robots.txtの解析に失敗: %w", err)
	}
	if data == nil {
		return nil, errors.New("robots.txtの解析結果が空です")
	}
	return data, nil
}

// applyCrawlDelay はrobots.txtのCrawl-delayが設定間隔より長い場合にホストの間隔を延ばす。
func (g *Gate) applyCrawlDelay(host string, data *robotstxt.RobotsData) {
	group := data.FindGroup(g.userAgent)
	if group == nil || group.CrawlDelay <= g.delay {
		return
	}
	g.limiterFor(host).SetLimit(rate.Every(group.CrawlDelay))
	g.logger.Info("robots.txtのCrawl-delayを適用します",
		slog.String("host", host),
		slog.String("crawl_delay", group.CrawlDelay.String()),
	)
}

// limiterFor はホストのリミッターを取得または作成する。
func (g *Gate) limiterFor(host string) *rate.Limiter {
	g.limiterMu.RLock()
	l, ok := g.limiters[host]
	g.limiterMu.RUnlock()
	if ok {
		return l
	}

	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()

	// ダブルチェック
	if l, ok := g.limiters[host]; ok {
		return l
	}

	limit := rate.Inf
	if g.delay > 0 {
		limit = rate.Every(g.delay)
	}
	l = rate.NewLimiter(limit, 1)
	g.limiters[host] = l
	return l
}

var _ Authorizer = (*Gate)(nil)

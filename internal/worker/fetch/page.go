package fetch

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/security"
)

const pageAccept = "text/html, application/xhtml+xml, */*;q=0.8"

const (
	// DefaultMinMatches はストラテジーを採用するために超える必要があるブロック数。
	DefaultMinMatches = 1
	// DefaultMaxBlocks は1ページから取り出すブロックの上限。
	DefaultMaxBlocks = 10

	// minTitleRunes 以下の長さのタイトルはナビゲーション等とみなして捨てる。
	minTitleRunes = 10
	// fallbackTitleRunes は見出しがないブロックで本文先頭から取るタイトルの長さ。
	fallbackTitleRunes = 100
)

// Strategy はページから記事ブロックを探す名前付きのセレクタ。
type Strategy struct {
	Name     string
	Selector string
}

// DefaultStrategies は試行順に並んだ標準のストラテジー。
var DefaultStrategies = []Strategy{
	{Name: "article", Selector: "article"},
	{Name: "post", Selector: ".post, .blog-post, .news-item"},
	{Name: "entry", Selector: ".entry, .story, .content-item"},
	{Name: "heading", Selector: "h2, h3"},
}

// PageOptions はページフェッチャーの設定。ゼロ値のフィールドは標準値を使う。
type PageOptions struct {
	Strategies []Strategy
	MinMatches int
	MaxBlocks  int
}

// PageFetcher はHTMLページを取得し、構造ヒューリスティックで記事ブロックを取り出す。
type PageFetcher struct {
	client     *Client
	logger     *slog.Logger
	strategies []Strategy
	minMatches int
	maxBlocks  int
}

// NewPageFetcher はPageFetcherの新しいインスタンスを生成する。
func NewPageFetcher(client *Client, logger *slog.Logger, opts PageOptions) *PageFetcher {
	p := &PageFetcher{
		client:     client,
		logger:     logger,
		strategies: opts.Strategies,
		minMatches: opts.MinMatches,
		maxBlocks:  opts.MaxBlocks,
	}
	if len(p.strategies) == 0 {
		p.strategies = DefaultStrategies
	}
	if p.minMatches <= 0 {
		p.minMatches = DefaultMinMatches
	}
	if p.maxBlocks <= 0 {
		p.maxBlocks = DefaultMaxBlocks
	}
	return p
}

// Fetch はrobots.txtで許可されている場合にページを取得し、ブロックごとにエントリをyieldする。
func (p *PageFetcher) Fetch(ctx context.Context, src model.Source) iter.Seq2[model.RawEntry, error] {
	return func(yield func(model.RawEntry, error) bool) {
		if !p.client.gate.Authorize(ctx, src.URL) {
			yield(model.RawEntry{}, &model.FetchError{Source: src.Name, URL: src.URL, Err: ErrDisallowed})
			return
		}

		body, err := p.client.Get(ctx, src, src.URL, pageAccept)
		if err != nil {
			yield(model.RawEntry{}, err)
			return
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(model.RawEntry{}, &model.ParseError{Source: src.Name, Err: err})
			return
		}

		base, err := baseURL(src.URL, doc)
		if err != nil {
			yield(model.RawEntry{}, &model.FetchError{Source: src.Name, URL: src.URL, Err: err})
			return
		}

		strategy, blocks := p.selectBlocks(doc)
		if blocks == nil {
			yield(model.RawEntry{}, &model.ParseError{
				Source: src.Name,
				Err:    errors.New("記事ブロックが見つかりません"),
			})
			return
		}
		p.logger.Debug("ページの抽出ストラテジーを決定しました",
			slog.String("source", src.Name),
			slog.String("strategy", strategy.Name),
			slog.Int("blocks", blocks.Length()),
		)

		blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
			entry, ok := blockEntry(block, base)
			if !ok {
				return true
			}
			return yield(entry, nil)
		})
	}
}

// selectBlocks は最初にminMatchesを超える数のブロックに一致したストラテジーを返す。
// 一致したブロックはmaxBlocks件に制限する。該当なしの場合はnilを返す。
func (p *PageFetcher) selectBlocks(doc *goquery.Document) (Strategy, *goquery.Selection) {
	for _, s := range p.strategies {
		sel := doc.Find(s.Selector)
		if sel.Length() > p.minMatches {
			if sel.Length() > p.maxBlocks {
				sel = sel.Slice(0, p.maxBlocks)
			}
			return s, sel
		}
	}
	return Strategy{}, nil
}

// baseURL はページURLと<base href>から相対リンク解決の基準URLを決める。
func baseURL(pageURL string, doc *goquery.Document) (*url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	return base, nil
}

// blockEntry はブロックからエントリを作る。タイトルが短すぎる場合はfalseを返す。
func blockEntry(block *goquery.Selection, base *url.URL) (model.RawEntry, bool) {
	text := security.CollapseSpace(block.Text())

	var title string
	if isHeading(goquery.NodeName(block)) {
		title = text
	} else {
		title = security.CollapseSpace(block.Find("h1, h2, h3, h4, h5, h6").First().Text())
	}
	if title == "" {
		title = truncateRunes(text, fallbackTitleRunes)
	}
	if utf8.RuneCountInString(title) <= minTitleRunes {
		return model.RawEntry{}, false
	}

	content, err := goquery.OuterHtml(block)
	if err != nil {
		content = text
	}

	return model.RawEntry{
		Title:   title,
		Content: content,
		Link:    blockLink(block, base),
	}, true
}

// blockLink はブロック内（見出しの場合は祖先も含む）の最初のリンクを絶対URLにして返す。
func blockLink(block *goquery.Selection, base *url.URL) string {
	href, ok := block.Find("a[href]").First().Attr("href")
	if !ok {
		href, ok = block.Closest("a[href]").Attr("href")
	}
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func isHeading(name string) bool {
	switch name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

var _ Fetcher = (*PageFetcher)(nil)

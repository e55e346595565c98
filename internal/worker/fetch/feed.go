package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/wellnesswire/internal/model"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// publishedLayouts はgofeedが解釈できなかった日時文字列に順に試すレイアウト。最初に成功したものを使う。
var publishedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
}

var (
	rssItemPattern   = regexp.MustCompile(`(?is)<item[\s>].*?</item>`)
	atomEntryPattern = regexp.MustCompile(`(?is)<entry[\s>].*?</entry>`)
)

// salvage時に断片を包む文書。よく使われる名前空間を宣言しておく。
const (
	rssWrapperHead = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:media="http://search.yahoo.com/mrss/"><channel>`
	rssWrapperTail  = `</channel></rss>`
	atomWrapperHead = `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom">`
	atomWrapperTail = `</feed>`
)

// FeedFetcher はRSS/Atomフィードを取得してエントリに変換する。
type FeedFetcher struct {
	client *Client
	logger *slog.Logger
}

// NewFeedFetcher はFeedFetcherの新しいインスタンスを生成する。
func NewFeedFetcher(client *Client, logger *slog.Logger) *FeedFetcher {
	return &FeedFetcher{client: client, logger: logger}
}

// Fetch はフィードを取得し、エントリを順にyieldする。
// 文書全体の解析に失敗した場合はエントリ単位の解析（サルベージ）に切り替え、
// 解析できたエントリと解析できなかったエントリのParseErrorを返す。
func (f *FeedFetcher) Fetch(ctx context.Context, src model.Source) iter.Seq2[model.RawEntry, error] {
	return func(yield func(model.RawEntry, error) bool) {
		body, err := f.client.Get(ctx, src, src.URL, feedAccept)
		if err != nil {
			yield(model.RawEntry{}, err)
			return
		}

		feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
		if err == nil {
			for _, item := range feed.Items {
				if !yield(convertItem(item), nil) {
					return
				}
			}
			return
		}

		f.logger.Warn("フィード全体の解析に失敗したため、エントリ単位で解析します",
			slog.String("source", src.Name),
			slog.String("url", src.URL),
			slog.String("error", err.Error()),
		)
		if !yield(model.RawEntry{}, &model.ParseError{Source: src.Name, Err: err}) {
			return
		}
		for entry, err := range salvage(src.Name, body) {
			if !yield(entry, err) {
				return
			}
		}
	}
}

// salvage は壊れたフィードから<item>/<entry>ブロックを切り出し、1件ずつ解析する。
func salvage(source string, body []byte) iter.Seq2[model.RawEntry, error] {
	return func(yield func(model.RawEntry, error) bool) {
		head, tail := rssWrapperHead, rssWrapperTail
		blocks := rssItemPattern.FindAll(body, -1)
		if len(blocks) == 0 {
			head, tail = atomWrapperHead, atomWrapperTail
			blocks = atomEntryPattern.FindAll(body, -1)
		}
		if len(blocks) == 0 {
			yield(model.RawEntry{}, &model.ParseError{
				Source: source,
				Err:    errors.New("解析可能なエントリが見つかりません"),
			})
			return
		}

		parser := gofeed.NewParser()
		for i, block := range blocks {
			doc := head + string(block) + tail
			feed, err := parser.ParseString(doc)
			if err == nil && len(feed.Items) == 0 {
				err = errors.New("エントリが空です")
			}
			if err != nil {
				if !yield(model.RawEntry{}, &model.ParseError{
					Source: source,
					Entry:  fmt.Sprintf("#%d", i+1),
					Err:    err,
				}) {
					return
				}
				continue
			}
			if !yield(convertItem(feed.Items[0]), nil) {
				return
			}
		}
	}
}

// convertItem はgofeed.Itemを未加工エントリに変換する。
func convertItem(item *gofeed.Item) model.RawEntry {
	content := item.Content
	if content == "" {
		content = item.Description
	}

	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}
	// GUIDがURL形式の場合はリンクとして使用
	if link == "" && strings.HasPrefix(item.GUID, "http") {
		link = item.GUID
	}

	return model.RawEntry{
		Title:       item.Title,
		Summary:     item.Description,
		Content:     content,
		Link:        link,
		PublishedAt: publishedAt(item),
	}
}

// publishedAt は公開日時を決める。
// PublishedParsed、UpdatedParsed、生の日時文字列の順に試す。
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if t, ok := parseTime(raw); ok {
			return &t
		}
	}
	return nil
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var _ Fetcher = (*FeedFetcher)(nil)

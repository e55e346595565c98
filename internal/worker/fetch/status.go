package fetch

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultPermanent は次回のランでも成功が見込めないステータス（404/410/401/403）。
	FetchResultPermanent
	// FetchResultTransient は一時的な障害を示すステータス（429/5xx）。
	FetchResultTransient
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// String はログとメトリクスのラベルに使う分類名を返す。
func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultPermanent:
		return "permanent"
	case FetchResultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
// 200以外は全てソース単位のFetchErrorになる。自動リトライは行わない。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 404 || statusCode == 410:
		return FetchResultPermanent
	case statusCode == 401 || statusCode == 403:
		return FetchResultPermanent
	case statusCode == 429:
		return FetchResultTransient
	case statusCode >= 500:
		return FetchResultTransient
	default:
		return FetchResultUnknown
	}
}

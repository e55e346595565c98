package enrich

import (
	"slices"
	"strings"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// maxTags はドキュメントに付与するタグの上限。
const maxTags = 10

type countryRule struct {
	country  string
	keywords []string
}

// gazetteer は国名の判定表。上から順に照合する（「인도네시아」は「인도」より先に判定する）。
var gazetteer = []countryRule{
	{"한국", []string{"한국", "국내", "서울", "부산", "제주"}},
	{"태국", []string{"태국", "thailand", "방콕", "푸켓"}},
	{"인도네시아", []string{"발리", "bali", "인도네시아"}},
	{"인도", []string{"인도", "india", "리시케시"}},
	{"일본", []string{"일본", "japan", "도쿄", "오키나와"}},
}

type durationRule struct {
	duration model.Duration
	keywords []string
}

var durationRules = []durationRule{
	{model.DurationSingleDay, []string{"당일", "1일", "day trip"}},
	{model.DurationOneNight, []string{"1박", "2일", "1night"}},
	{model.DurationTwoThreeDays, []string{"2박", "3일"}},
	{model.DurationOneWeek, []string{"1주", "week", "7일"}},
}

type priceRule struct {
	price    model.PriceRange
	keywords []string
}

var priceRules = []priceRule{
	{model.PriceLow, []string{"저렴", "합리적", "affordable"}},
	{model.PriceLuxury, []string{"럭셔리", "luxury", "프리미엄"}},
	{model.PriceHigh, []string{"고급", "고가", "expensive"}},
}

// AttributeExtractor は本文から所在地・プログラム情報・タグを推定する。
// 一致するキーワードがない属性はnil（未設定）になり、エラーにはならない。
type AttributeExtractor struct {
	tagKeywords []string
}

// NewAttributeExtractor はタグ付けに使うキーワードを指定してAttributeExtractorを生成する。
func NewAttributeExtractor(tagKeywords []string) *AttributeExtractor {
	return &AttributeExtractor{tagKeywords: normalizeKeywords(tagKeywords)}
}

// Location は判定表の順に最初に一致した国を返す。
func (a *AttributeExtractor) Location(title, content string) *model.Location {
	text := lowerText(title, content)
	for _, rule := range gazetteer {
		if containsAny(text, rule.keywords) {
			return &model.Location{Country: rule.country}
		}
	}
	return nil
}

// ProgramInfo は期間と価格帯を判定する。どちらも一致しない場合はnilを返す。
func (a *AttributeExtractor) ProgramInfo(title, content string) *model.ProgramInfo {
	text := lowerText(title, content)
	var info model.ProgramInfo
	for _, rule := range durationRules {
		if containsAny(text, rule.keywords) {
			info.Duration = rule.duration
			break
		}
	}
	for _, rule := range priceRules {
		if containsAny(text, rule.keywords) {
			info.PriceRange = rule.price
			break
		}
	}
	if info == (model.ProgramInfo{}) {
		return nil
	}
	return &info
}

// Tags は一致したキーワードを重複なしで辞書順に並べ、最大10件返す。
func (a *AttributeExtractor) Tags(title, content string) []string {
	text := lowerText(title, content)
	var tags []string
	for _, kw := range a.tagKeywords {
		if strings.Contains(text, kw) && !slices.Contains(tags, kw) {
			tags = append(tags, kw)
		}
	}
	slices.Sort(tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

package enrich

import (
	"strings"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// DefaultCategory はどのカテゴリのキーワードにも一致しない場合の分類。
const DefaultCategory = model.CategoryMindWellness

// CategoryKeywords はカテゴリごとのキーワード一覧。
var CategoryKeywords = map[model.Category][]string{
	model.CategoryMindWellness: {
		"meditation", "mindfulness", "mental", "mind", "stress", "therapy", "spiritual",
		"명상", "마음", "정신", "스트레스", "심리", "치유", "마인드풀니스",
	},
	model.CategoryBodyWellness: {
		"yoga", "fitness", "pilates", "exercise", "health", "nutrition", "diet", "detox",
		"요가", "운동", "필라테스", "건강", "영양", "다이어트", "피트니스", "디톡스", "건강식",
	},
	model.CategorySpaTherapy: {
		"spa", "massage", "aromatherapy", "healing", "hot tub", "relaxation", "nature", "forest",
		"스파", "마사지", "아로마", "힐링", "온천", "휴식", "테라피", "자연", "산림욕", "자연치유",
	},
}

// CategoryScore はカテゴリと一致したキーワード数の組。
type CategoryScore struct {
	Category model.Category
	Score    int
}

// Classifier はキーワードの一致数でカテゴリを決定する。
// 最高得点のカテゴリが選ばれ、同点の場合はmodel.Categoriesの順
// （mind_wellness > body_wellness > spa_therapy）で先のものを選ぶ。
type Classifier struct {
	keywords map[model.Category][]string
}

// NewClassifier は標準のキーワードでClassifierを生成する。
func NewClassifier() *Classifier {
	keywords := make(map[model.Category][]string, len(CategoryKeywords))
	for c, kws := range CategoryKeywords {
		keywords[c] = normalizeKeywords(kws)
	}
	return &Classifier{keywords: keywords}
}

// Scores は優先順位順に各カテゴリの得点を返す。
// 得点はテキストに含まれる異なるキーワードの数。
func (c *Classifier) Scores(title, content string) []CategoryScore {
	text := lowerText(title, content)
	scores := make([]CategoryScore, 0, len(model.Categories))
	for _, cat := range model.Categories {
		n := 0
		for _, kw := range c.keywords[cat] {
			if strings.Contains(text, kw) {
				n++
			}
		}
		scores = append(scores, CategoryScore{Category: cat, Score: n})
	}
	return scores
}

// Classify はカテゴリを1つ返す。失敗することはない。
// どのカテゴリも得点がない場合はfallbackが指定されていればそれを、なければDefaultCategoryを返す。
func (c *Classifier) Classify(title, content string, fallback *model.Category) model.Category {
	best := CategoryScore{}
	for _, s := range c.Scores(title, content) {
		// 厳密に大きい場合のみ更新するため、同点では優先順位の高い方が残る
		if s.Score > best.Score {
			best = s
		}
	}
	if best.Score > 0 {
		return best.Category
	}
	if fallback != nil {
		return *fallback
	}
	return DefaultCategory
}

package enrich

import (
	"testing"

	"github.com/hitoshi/wellnesswire/internal/model"
)

func TestClassifier_Classify(t *testing.T) {
	spa := model.CategorySpaTherapy
	body := model.CategoryBodyWellness

	tests := []struct {
		name     string
		title    string
		content  string
		fallback *model.Category
		want     model.Category
	}{
		{"最高得点が勝つ", "Yoga and pilates", "a short spa visit", nil, model.CategoryBodyWellness},
		{"同点はmindがbodyより優先", "meditation yoga", "", nil, model.CategoryMindWellness},
		{"同点はbodyがspaより優先", "yoga spa", "", nil, model.CategoryBodyWellness},
		{"3カテゴリ同点", "명상", "요가 스파", nil, model.CategoryMindWellness},
		{"韓国語キーワード", "산림욕과 온천", "마사지", nil, model.CategorySpaTherapy},
		{"得点なしは既定値", "Quarterly report", "numbers", nil, model.CategoryMindWellness},
		{"得点なしはソースの既定カテゴリ", "Quarterly report", "numbers", &spa, model.CategorySpaTherapy},
		{"得点があればソースの既定カテゴリは使わない", "massage and aromatherapy", "", &body, model.CategorySpaTherapy},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.title, tt.content, tt.fallback); got != tt.want {
				t.Errorf("Classify() = %q, want %q (scores=%v)", got, tt.want, c.Scores(tt.title, tt.content))
			}
		})
	}
}

func TestClassifier_CountsDistinctKeywords(t *testing.T) {
	c := NewClassifier()

	scores := c.Scores("yoga yoga yoga", "YOGA")
	for _, s := range scores {
		if s.Category == model.CategoryBodyWellness && s.Score != 1 {
			t.Errorf("同じキーワードの繰り返しは1回と数えるべき: got %d", s.Score)
		}
	}
	if len(scores) != len(model.Categories) {
		t.Errorf("len(scores) = %d, want %d", len(scores), len(model.Categories))
	}
	for i, s := range scores {
		if s.Category != model.Categories[i] {
			t.Errorf("scores[%d] = %q, 優先順位順に並ぶべき", i, s.Category)
		}
	}
}

func TestClassifier_Idempotent(t *testing.T) {
	c := NewClassifier()
	title, content := "Forest healing and yoga", "stress relief with meditation and spa"

	first := c.Classify(title, content, nil)
	for i := 0; i < 20; i++ {
		if got := c.Classify(title, content, nil); got != first {
			t.Fatalf("同一入力で結果が変わりました: %q != %q", got, first)
		}
	}
}

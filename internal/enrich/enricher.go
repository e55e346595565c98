package enrich

import "github.com/hitoshi/wellnesswire/internal/model"

// Enricher は分類・属性抽出・品質評価をまとめて適用する。
type Enricher struct {
	classifier *Classifier
	attributes *AttributeExtractor
	scorer     QualityScorer
}

// NewEnricher はタグ付けに使うキーワードを指定してEnricherを生成する。
func NewEnricher(tagKeywords []string) *Enricher {
	return &Enricher{
		classifier: NewClassifier(),
		attributes: NewAttributeExtractor(tagKeywords),
	}
}

// Enrich はドキュメントにカテゴリ・所在地・プログラム情報・タグ・品質スコアを付与する。
// 属性抽出は分類の後に行い、分類結果には影響しない。
func (e *Enricher) Enrich(doc model.Document, src model.Source) model.EnrichedDocument {
	enriched := model.EnrichedDocument{
		Document:    doc,
		Category:    e.classifier.Classify(doc.Title, doc.Content, src.DefaultCategory),
		Location:    e.attributes.Location(doc.Title, doc.Content),
		ProgramInfo: e.attributes.ProgramInfo(doc.Title, doc.Content),
		Tags:        e.attributes.Tags(doc.Title, doc.Content),
	}
	enriched.QualityScore = e.scorer.Weighted(enriched, weightOf(src))
	return enriched
}

// Recompute は保存済みレコードに対してパイプラインが算出するフィールドを再計算する。
// srcがnil（ソースが登録解除済み）の場合は品質重み1.0、既定カテゴリなしとして扱う。
func (e *Enricher) Recompute(rec model.PersistedRecord, src *model.Source) model.PipelineUpdate {
	s := model.Source{QualityWeight: 1}
	if src != nil {
		s = *src
	}
	enriched := e.Enrich(model.Document{
		Title:   rec.Title,
		Content: rec.Content,
		Summary: rec.Summary,
	}, s)
	return model.PipelineUpdate{
		Category:     enriched.Category,
		Location:     enriched.Location,
		ProgramInfo:  enriched.ProgramInfo,
		QualityScore: enriched.QualityScore,
	}
}

func weightOf(src model.Source) float64 {
	if src.QualityWeight <= 0 {
		return 1
	}
	return src.QualityWeight
}

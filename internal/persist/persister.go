// Package persist は強化済みドキュメントを正規レコードとして保存する。
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/repository"
)

// Creator はレコード作成のインターフェース。
type Creator interface {
	Create(ctx context.Context, record *model.PersistedRecord) error
}

// Persister は重複排除ストアでの予約に成功したドキュメントを保存する。
// 保存後のレコードは収集パイプラインから更新しない。
type Persister struct {
	repo Creator
	now  func() time.Time
}

// New はPersisterを生成する。
func New(repo Creator) *Persister {
	return &Persister{repo: repo, now: time.Now}
}

// Commit はIDと時刻を付与してレコードを作成する。
// フィンガープリントの一意制約違反はmodel.ErrDuplicateを返し、
// それ以外の失敗は*model.PersistenceErrorを返す。
func (p *Persister) Commit(ctx context.Context, doc model.EnrichedDocument) (model.PersistedRecord, error) {
	now := p.now().UTC()
	rec := model.PersistedRecord{
		ID:           uuid.New().String(),
		Title:        doc.Title,
		Summary:      doc.Summary,
		Content:      doc.Content,
		Source:       doc.Source,
		SourceURL:    doc.Link,
		Category:     doc.Category,
		Tags:         doc.Tags,
		Location:     doc.Location,
		ProgramInfo:  doc.ProgramInfo,
		QualityScore: doc.QualityScore,
		PublishedAt:  doc.PublishedAt,
		CollectedAt:  now,
		Fingerprint:  doc.Fingerprint,
		Active:       true,
		Views:        0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := p.repo.Create(ctx, &rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateFingerprint) {
			return model.PersistedRecord{}, model.ErrDuplicate
		}
		return model.PersistedRecord{}, &model.PersistenceError{Fingerprint: doc.Fingerprint, Err: err}
	}
	return rec, nil
}

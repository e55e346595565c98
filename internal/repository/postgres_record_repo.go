package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

// PostgresRecordRepo はPostgreSQLを使用した収集レコードリポジトリ。
type PostgresRecordRepo struct {
	db *sql.DB
}

// NewPostgresRecordRepo はPostgresRecordRepoを生成する。
func NewPostgresRecordRepo(db *sql.DB) *PostgresRecordRepo {
	return &PostgresRecordRepo{db: db}
}

// Create はレコードを作成する。
// フィンガープリントの一意制約違反はErrDuplicateFingerprintに変換する。
func (r *PostgresRecordRepo) Create(ctx context.Context, rec *model.PersistedRecord) error {
	location, err := marshalNullable(rec.Location)
	if err != nil {
		return fmt.Errorf("所在地のエンコードに失敗しました: %w", err)
	}
	programInfo, err := marshalNullable(rec.ProgramInfo)
	if err != nil {
		return fmt.Errorf("プログラム情報のエンコードに失敗しました: %w", err)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO newsletters (id, title, summary, content, source, source_url,
		                          primary_category, secondary_category, tags, location, program_info,
		                          quality_score, published_at, collected_at, is_active, views,
		                          fingerprint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		rec.ID, rec.Title, rec.Summary, rec.Content, rec.Source, rec.SourceURL,
		string(rec.Category), nullString(rec.SecondaryCategory), pq.Array(tags), location, programInfo,
		rec.QualityScore, rec.PublishedAt, rec.CollectedAt, rec.Active, rec.Views,
		rec.Fingerprint, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// ListFingerprintsSince は指定日時以降に収集されたレコードのフィンガープリントを返す。
func (r *PostgresRecordRepo) ListFingerprintsSince(ctx context.Context, since time.Time) ([]FingerprintEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint, collected_at FROM newsletters WHERE collected_at >= $1`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("フィンガープリント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []FingerprintEntry
	for rows.Next() {
		var e FingerprintEntry
		if err := rows.Scan(&e.Fingerprint, &e.CollectedAt); err != nil {
			return nil, fmt.Errorf("フィンガープリント行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィンガープリント一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// ListForReenrich は再エンリッチ対象の有効なレコードをID順に返す。
func (r *PostgresRecordRepo) ListForReenrich(ctx context.Context, afterID string, limit int) ([]model.PersistedRecord, error) {
	query := `SELECT id, title, summary, content, source, source_url, primary_category,
	                 secondary_category, tags, location, program_info, quality_score,
	                 published_at, collected_at, is_active, views, fingerprint, created_at, updated_at
	          FROM newsletters WHERE is_active = true`
	args := []any{}
	if afterID != "" {
		query += ` AND id > $1 ORDER BY id LIMIT $2`
		args = append(args, afterID, limit)
	} else {
		query += ` ORDER BY id LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("再エンリッチ対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.PersistedRecord
	for rows.Next() {
		var rec model.PersistedRecord
		var category string
		var secondary sql.NullString
		var location, programInfo []byte
		var publishedAt sql.NullTime

		if err := rows.Scan(
			&rec.ID, &rec.Title, &rec.Summary, &rec.Content, &rec.Source, &rec.SourceURL, &category,
			&secondary, pq.Array(&rec.Tags), &location, &programInfo, &rec.QualityScore,
			&publishedAt, &rec.CollectedAt, &rec.Active, &rec.Views, &rec.Fingerprint,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("レコード行の読み取りに失敗しました: %w", err)
		}

		rec.Category = model.Category(category)
		rec.SecondaryCategory = nullStringValue(secondary)
		if publishedAt.Valid {
			t := publishedAt.Time
			rec.PublishedAt = &t
		}
		if len(location) > 0 {
			rec.Location = &model.Location{}
			if err := json.Unmarshal(location, rec.Location); err != nil {
				return nil, fmt.Errorf("所在地のデコードに失敗しました (id=%s): %w", rec.ID, err)
			}
		}
		if len(programInfo) > 0 {
			rec.ProgramInfo = &model.ProgramInfo{}
			if err := json.Unmarshal(programInfo, rec.ProgramInfo); err != nil {
				return nil, fmt.Errorf("プログラム情報のデコードに失敗しました (id=%s): %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レコード一覧の走査に失敗しました: %w", err)
	}
	return records, nil
}

// ApplyPipelineUpdate はカテゴリ・所在地・プログラム情報・品質スコアのみを上書きする。
func (r *PostgresRecordRepo) ApplyPipelineUpdate(ctx context.Context, id string, u model.PipelineUpdate) error {
	location, err := marshalNullable(u.Location)
	if err != nil {
		return fmt.Errorf("所在地のエンコードに失敗しました: %w", err)
	}
	programInfo, err := marshalNullable(u.ProgramInfo)
	if err != nil {
		return fmt.Errorf("プログラム情報のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE newsletters SET
		    primary_category = $2, location = $3, program_info = $4,
		    quality_score = $5, updated_at = now()
		 WHERE id = $1`,
		id, string(u.Category), location, programInfo, u.QualityScore,
	)
	if err != nil {
		return fmt.Errorf("レコードの更新に失敗しました: %w", err)
	}
	return nil
}

// isUniqueViolation はエラーがPostgreSQLの一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

// marshalNullable はnilポインタをSQL NULLに、それ以外をJSONに変換する。
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ RecordRepository = (*PostgresRecordRepo)(nil)

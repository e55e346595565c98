package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, url, type, is_active, default_category, cadence,
	last_collected, quality_weight, description, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(s rowScanner) (model.Source, error) {
	var src model.Source
	var typ, cadence string
	var defaultCategory sql.NullString
	var lastCollected sql.NullTime

	if err := s.Scan(
		&src.ID, &src.Name, &src.URL, &typ, &src.Active, &defaultCategory, &cadence,
		&lastCollected, &src.QualityWeight, &src.Description, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return model.Source{}, err
	}

	src.Type = model.SourceType(typ)
	src.Cadence = model.Cadence(cadence)
	if defaultCategory.Valid {
		if c, ok := model.ParseCategory(defaultCategory.String); ok {
			src.DefaultCategory = &c
		}
	}
	if lastCollected.Valid {
		t := lastCollected.Time
		src.LastCollected = &t
	}
	return src, nil
}

// ListActive は有効なソースを名前順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM newsletter_sources WHERE is_active = true ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("有効なソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// FindByName は名前でソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByName(ctx context.Context, name string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM newsletter_sources WHERE name = $1`, name,
	)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return &src, nil
}

// UpsertByName は名前をキーにソースを作成または更新する。
// IDと作成日時・更新日時は書き戻す。
func (r *PostgresSourceRepo) UpsertByName(ctx context.Context, source *model.Source) error {
	var defaultCategory sql.NullString
	if source.DefaultCategory != nil {
		defaultCategory = sql.NullString{String: string(*source.DefaultCategory), Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO newsletter_sources (name, url, type, is_active, default_category, cadence, quality_weight, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
		    url = EXCLUDED.url,
		    type = EXCLUDED.type,
		    is_active = EXCLUDED.is_active,
		    default_category = EXCLUDED.default_category,
		    cadence = EXCLUDED.cadence,
		    quality_weight = EXCLUDED.quality_weight,
		    description = EXCLUDED.description,
		    updated_at = now()
		 RETURNING id, created_at, updated_at`,
		source.Name, source.URL, string(source.Type), source.Active, defaultCategory,
		string(source.Cadence), source.QualityWeight, source.Description,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ソースの登録に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastCollected はソースの最終収集日時を更新する。
func (r *PostgresSourceRepo) UpdateLastCollected(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_sources SET last_collected = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("最終収集日時の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkeye/Arena/internal/domain"
)

// AssetRepository persists uploaded monster models in the models table.
type AssetRepository struct {
	db *pgxpool.Pool
}

func NewAssetRepository(db *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{db: db}
}

// Insert registers an uploaded model. Uploading itself happens elsewhere.
func (r *AssetRepository) Insert(ctx context.Context, a domain.Asset) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO models (id, file_name, file_path, file_size, mime_type, uploaded_at, is_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.ID), a.FileName, a.FilePath, a.FileSize, a.MimeType, a.UploadedAt, a.InUse,
	)
	if err != nil {
		return fmt.Errorf("inserting model %s: %w", a.ID, err)
	}
	return nil
}

// MarkInUse flags ids as used by sid in one statement.
// It fails with domain.ErrAssetNotFound when none of ids exist.
func (r *AssetRepository) MarkInUse(ctx context.Context, sid domain.SessionID, ids []domain.AssetID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE models SET is_used = TRUE, session_id = $1 WHERE id = ANY($2)`,
		string(sid), raw,
	)
	if err != nil {
		return fmt.Errorf("marking models in use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking models in use: %w", domain.ErrAssetNotFound)
	}
	return nil
}

// ListUnused returns models not yet used by a session, newest first.
func (r *AssetRepository) ListUnused(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, file_name, file_path, file_size, mime_type, uploaded_at, is_used, session_id
		 FROM models
		 WHERE is_used = FALSE
		 ORDER BY uploaded_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unused models: %w", err)
	}

	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Asset, error) {
		var (
			a   domain.Asset
			id  string
			sid *string
		)
		if err := row.Scan(&id, &a.FileName, &a.FilePath, &a.FileSize, &a.MimeType, &a.UploadedAt, &a.InUse, &sid); err != nil {
			return domain.Asset{}, err
		}
		a.ID = domain.AssetID(id)
		if sid != nil {
			s := domain.SessionID(*sid)
			a.SessionID = &s
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning models: %w", err)
	}
	return assets, nil
}

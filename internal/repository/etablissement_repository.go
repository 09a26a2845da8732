package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/orema/pos-backend/internal/metrics"
)

// EtablissementRepository looks up tenants.
type EtablissementRepository struct {
	db *sqlx.DB
}

// NewEtablissementRepository creates a new EtablissementRepository instance
func NewEtablissementRepository(db *sqlx.DB) *EtablissementRepository {
	return &EtablissementRepository{db: db}
}

// Exists reports whether an etablissement with id is present.
func (r *EtablissementRepository) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	defer metrics.TimeQuery("exists_etablissement")()

	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM etablissements WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check etablissement: %w", err)
	}
	return exists, nil
}

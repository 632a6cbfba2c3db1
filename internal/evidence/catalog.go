package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const listDocumentsSQL = `SELECT filename, created_at
	FROM documents
	WHERE user_id = $1
	ORDER BY created_at DESC`

const listDocumentsDetailSQL = `SELECT filename, domain, status, created_at
	FROM documents
	WHERE user_id = $1
	ORDER BY created_at DESC`

const userModeSQL = `SELECT mode FROM user_settings WHERE user_id = $1`

// Catalog reads the user's document list and workspace settings.
// Documents are written by the upload/ingestion path, which is outside
// this service; from here the catalog is read-only.
type Catalog struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCatalog creates a Catalog backed by the given pool.
func NewCatalog(pool *pgxpool.Pool, logger *slog.Logger) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{pool: pool, logger: logger}, nil
}

// List returns every document the user has uploaded, newest first.
func (c *Catalog) List(ctx context.Context, userID string) ([]DocumentRef, error) {
	rows, err := c.pool.Query(ctx, listDocumentsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var refs []DocumentRef
	for rows.Next() {
		var ref DocumentRef
		if err := rows.Scan(&ref.Filename, &ref.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return refs, nil
}

// DocumentDetail is the catalog entry exposed by the documents API,
// including processing status from the ingestion pipeline.
type DocumentDetail struct {
	Filename   string    `json:"filename"`
	Domain     string    `json:"domain"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ListDetail returns catalog entries with domain and ingestion status.
func (c *Catalog) ListDetail(ctx context.Context, userID string) ([]DocumentDetail, error) {
	rows, err := c.pool.Query(ctx, listDocumentsDetailSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentDetail
	for rows.Next() {
		var d DocumentDetail
		if err := rows.Scan(&d.Filename, &d.Domain, &d.Status, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return docs, nil
}

// Mode returns the user's selected workspace mode. Users without a
// settings row get an empty string; the persona registry maps that to
// the general persona.
func (c *Catalog) Mode(ctx context.Context, userID string) (string, error) {
	var mode string
	err := c.pool.QueryRow(ctx, userModeSQL, userID).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading user mode: %w", err)
	}
	return mode, nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.IndexStore = (*DatabaseClient)(nil)

// DatabaseClient is the pgvector index backend.
type DatabaseClient struct {
	db  *sql.DB
	dim int

	// iterative is set when the installed pgvector supports iterative index scans.
	iterative atomic.Bool
}

// NewDatabaseClient opens the pool and pings it. Schema creation happens in EnsureIndex.
func NewDatabaseClient(ctx context.Context, databaseURL, sslCertPath string, dim int) (*DatabaseClient, error) {
	dsn, err := buildDSN(databaseURL, sslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DatabaseClient{db: db, dim: dim}, nil
}

// buildDSN appends certificate verification parameters when a CA file is configured.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}

	// Append SSL params to the provided DATABASE_URL safely.
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) EnsureIndex(ctx context.Context) error {
	if err := EnsureBootstrapped(ctx, c.db, c.dim); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// pgvector stores the declared dimension in atttypmod
	var dim int
	err := c.db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'`).Scan(&dim)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if dim != c.dim {
		return &core.DimensionMismatchError{Expected: c.dim, Got: dim}
	}

	var version string
	if err := c.db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version); err != nil {
		return fmt.Errorf("read pgvector version: %w", err)
	}
	c.iterative.Store(versionAtLeast(version, 0, 8))
	return nil
}

// Upsert inserts chunks in a single transaction, overwriting rows with the same id.
func (c *DatabaseClient) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, filename, chunk_index, page_number, content, char_count, token_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			page_number = EXCLUDED.page_number,
			char_count = EXCLUDED.char_count,
			token_count = EXCLUDED.token_count,
			embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.FileName, ch.Index, ch.Page, ch.Text, ch.CharCount, ch.TokenCount, vec,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const searchQuery = `
	SELECT id, document_id, filename, chunk_index, page_number, content, char_count, token_count, seq,
	       1 - (embedding <=> $1) AS score
	FROM document_chunks
	WHERE ($2 = '' OR document_id = $2)
	ORDER BY embedding <=> $1, seq
	LIMIT $3
`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Search finds the top-k chunks by cosine similarity, optionally within one document.
// A document filter is applied after the HNSW scan, so filtered searches run in a
// transaction that widens the scan until enough rows match.
func (c *DatabaseClient) Search(ctx context.Context, queryVec []float32, documentID string, limit int) ([]models.SearchHit, error) {
	if documentID == "" {
		return c.search(ctx, c.db, queryVec, documentID, limit)
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range filteredScanSettings(c.iterative.Load()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("configure filtered scan: %w", err)
		}
	}
	hits, err := c.search(ctx, tx, queryVec, documentID, limit)
	if err != nil {
		return nil, err
	}
	return hits, tx.Commit()
}

func (c *DatabaseClient) search(ctx context.Context, q queryer, queryVec []float32, documentID string, limit int) ([]models.SearchHit, error) {
	rows, err := q.QueryContext(ctx, searchQuery, pgvector.NewVector(queryVec), documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(
			&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.FileName, &h.Chunk.Index, &h.Chunk.Page,
			&h.Chunk.Text, &h.Chunk.CharCount, &h.Chunk.TokenCount, &h.Seq, &h.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// filteredScanSettings returns the SET LOCAL statements for a document filtered
// search. pgvector 0.8 keeps scanning the HNSW graph until LIMIT rows pass the
// filter; older versions only get the largest candidate list.
func filteredScanSettings(iterative bool) []string {
	if iterative {
		return []string{
			"SET LOCAL hnsw.iterative_scan = strict_order",
			"SET LOCAL hnsw.max_scan_tuples = 100000",
		}
	}
	return []string{"SET LOCAL hnsw.ef_search = 1000"}
}

// versionAtLeast compares a "major.minor[.patch]" extension version.
func versionAtLeast(version string, major, minor int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	maj, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	mnr, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return maj > major || (maj == major && mnr >= minor)
}

func (c *DatabaseClient) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	if c.db == nil {
		return errors.New("database not initialised")
	}
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

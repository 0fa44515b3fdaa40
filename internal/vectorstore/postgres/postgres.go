// Package postgres stores each book in its own pgvector table.
//
// The store accepts an externally owned *pgxpool.Pool; Connect is a
// convenience that opens and pings one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

// maxTableName leaves room for index suffixes within the 63-byte identifier limit.
const maxTableName = 48

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

const defaultTimeout = 30 * time.Second

var _ domain.CollectionStore = (*Storage)(nil)

type Config struct {
	CollectionPrefix string
	Dimensions       int
	// Timeout bounds every store call, a whole transaction included.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Storage struct {
	pool      *pgxpool.Pool
	prefix    string
	dimension int
	timeout   time.Duration
	logger    zerolog.Logger
}

// New creates a Storage over pool. The caller owns the pool.
func New(pool *pgxpool.Pool, cfg Config) (*Storage, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("invalid dimension")
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = vectorstore.DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Storage{pool: pool, prefix: cfg.CollectionPrefix, dimension: cfg.Dimensions, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

// Connect opens a pool for dsn and checks it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// fail wraps err, keeping an expired or cancelled ctx visible to errors.Is.
func (s *Storage) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &domain.StorageError{Backend: "postgres", Op: op, Err: err}
}

// tableName returns the unquoted table name for a book.
func (s *Storage) tableName(bookID string) (string, error) {
	name := vectorstore.CollectionName(s.prefix, bookID)
	if bookID == "" || len(name) > maxTableName {
		return "", fmt.Errorf("book id %q cannot name a table: %w", bookID, domain.ErrInvalidArgument)
	}
	return name, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

func (s *Storage) Exists(ctx context.Context, bookID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	name, err := s.tableName(bookID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			 WHERE table_schema = current_schema() AND table_name = $1
		)`, name).Scan(&exists)
	if err != nil {
		return false, s.fail(ctx, "exists", err)
	}
	return exists, nil
}

// Create makes the table and its indexes in one transaction.
func (s *Storage) Create(ctx context.Context, bookID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	exists, err := s.Exists(ctx, bookID)
	if err != nil || exists {
		return false, err
	}
	name, _ := s.tableName(bookID)
	table := ident(name)

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE %s (
			id UUID PRIMARY KEY,
			book_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			source_file TEXT NOT NULL,
			titulo TEXT,
			seccion TEXT,
			subseccion TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, s.dimension),
	}
	for _, field := range vectorstore.IndexedFields {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`, ident(name+"_"+field+"_idx"), table, field))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`, ident(name+"_embedding_idx"), table))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, s.fail(ctx, "create", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return false, s.fail(ctx, "create", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, s.fail(ctx, "create", fmt.Errorf("commit tx: %w", err))
	}
	s.logger.Info().Str("book_id", bookID).Int("dimensions", s.dimension).Msg("collection created")
	return true, nil
}

func (s *Storage) Delete(ctx context.Context, bookID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	exists, err := s.Exists(ctx, bookID)
	if err != nil || !exists {
		return false, err
	}
	name, _ := s.tableName(bookID)
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+ident(name)); err != nil {
		return false, s.fail(ctx, "delete", err)
	}
	s.logger.Info().Str("book_id", bookID).Msg("collection deleted")
	return true, nil
}

// Insert writes every row in a single transaction.
func (s *Storage) Insert(ctx context.Context, bookID string, chunks []domain.Chunk, embeddings [][]float32) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	name, err := s.tableName(bookID)
	if err != nil {
		return 0, err
	}
	records, err := vectorstore.NewRecords(bookID, chunks, embeddings, s.dimension)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, s.fail(ctx, "insert", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`INSERT INTO %s
		(id, book_id, chunk_index, content, source_file, titulo, seccion, subseccion, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)`, ident(name))
	for _, r := range records {
		_, err := tx.Exec(ctx, query,
			r.ID, r.BookID, r.ChunkIndex, r.Chunk.Content, r.Metadata()[vectorstore.FieldSourceFile],
			nullString(r.Chunk.Titulo), nullString(r.Chunk.Seccion), nullString(r.Chunk.Subseccion),
			r.CreatedAt, serializeEmbedding(r.Vector))
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
		}
		if err != nil {
			return 0, s.fail(ctx, "insert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, s.fail(ctx, "insert", fmt.Errorf("commit tx: %w", err))
	}
	return len(records), nil
}

func (s *Storage) Search(ctx context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]domain.RetrievedChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	name, err := s.tableName(bookID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	args := []any{serializeEmbedding(vector), limit}
	where := ""
	if threshold != nil {
		where = `WHERE 1 - (embedding <=> $1::vector) >= $3`
		args = append(args, *threshold)
	}
	query := fmt.Sprintf(`SELECT chunk_index, content, source_file, titulo, seccion, subseccion,
		        1 - (embedding <=> $1::vector) AS score
		   FROM %s %s
		  ORDER BY embedding <=> $1::vector
		  LIMIT $2`, ident(name), where)

	rows, err := s.pool.Query(ctx, query, args...)
	if isUndefinedTable(err) {
		return nil, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, s.fail(ctx, "search", err)
	}
	defer rows.Close()

	hits := []domain.RetrievedChunk{}
	for rows.Next() {
		var (
			rc                          domain.RetrievedChunk
			titulo, seccion, subseccion *string
		)
		if err := rows.Scan(&rc.ChunkIndex, &rc.Content, &rc.SourceFile, &titulo, &seccion, &subseccion, &rc.Score); err != nil {
			return nil, s.fail(ctx, "search", err)
		}
		rc.Titulo, rc.Seccion, rc.Subseccion = deref(titulo), deref(seccion), deref(subseccion)
		hits = append(hits, rc)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
		}
		return nil, s.fail(ctx, "search", err)
	}
	return hits, nil
}

func (s *Storage) Count(ctx context.Context, bookID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	name, err := s.tableName(bookID)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM `+ident(name)).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(ctx, "count", err)
	}
	return n, nil
}

func (s *Storage) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`)
	if err != nil {
		return nil, s.fail(ctx, "list", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.fail(ctx, "list", err)
	}
	return bookIDs(names, s.prefix), nil
}

// Ping checks the pool can reach the server.
func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return s.fail(ctx, "ping", err)
	}
	return nil
}

func bookIDs(tables []string, prefix string) []string {
	ids := make([]string, 0, len(tables))
	for _, t := range tables {
		if id, ok := strings.CutPrefix(t, prefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool the stores use. pgxmock satisfies it
// for tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresConfig controls the shared connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// PostgresSourceStore reads sources from Postgres.
type PostgresSourceStore struct {
	db Querier
}

// NewPostgresSourceStore constructs a source store over an existing pool.
func NewPostgresSourceStore(db Querier) *PostgresSourceStore {
	return &PostgresSourceStore{db: db}
}

// GetByURL implements SourceStore.
func (s *PostgresSourceStore) GetByURL(ctx context.Context, url string) (Source, error) {
	query, args, err := psql.
		Select("id", "owner_id", "name", "url", "active", "keywords").
		From("sources").
		Where(sq.Eq{"url": url}).
		Limit(1).
		ToSql()
	if err != nil {
		return Source{}, fmt.Errorf("build source query: %w", err)
	}
	var src Source
	row := s.db.QueryRow(ctx, query, args...)
	if err := row.Scan(&src.ID, &src.OwnerID, &src.Name, &src.URL, &src.Active, &src.Keywords); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Source{}, ErrNotFound
		}
		return Source{}, fmt.Errorf("scan source: %w", err)
	}
	return src, nil
}

// ListActive implements SourceStore.
func (s *PostgresSourceStore) ListActive(ctx context.Context) ([]Source, error) {
	query, args, err := psql.
		Select("id", "owner_id", "name", "url", "active", "keywords").
		From("sources").
		Where(sq.Eq{"active": true}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active sources query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.OwnerID, &src.Name, &src.URL, &src.Active, &src.Keywords); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// PostgresArticleStore persists articles.
type PostgresArticleStore struct {
	db Querier
}

// NewPostgresArticleStore constructs an article store over an existing pool.
func NewPostgresArticleStore(db Querier) *PostgresArticleStore {
	return &PostgresArticleStore{db: db}
}

// ExistsByURL implements ArticleStore.
func (s *PostgresArticleStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("articles").
		Where(sq.Eq{"url": url}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}
	var one int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scan exists: %w", err)
	}
	return true, nil
}

// Insert implements ArticleStore. The caller owns duplicate checking; a unique
// violation still surfaces as an error here.
func (s *PostgresArticleStore) Insert(ctx context.Context, a Article) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query, args, err := psql.
		Insert("articles").
		Columns(
			"id", "source_id", "owner_id", "url", "title", "content",
			"author", "publish_date", "method", "confidence",
			"summary", "relevance_score", "is_threat", "threat_score", "created_at",
		).
		Values(
			a.ID, a.SourceID, a.OwnerID, a.URL, a.Title, a.Content,
			a.Author, a.PublishDate, a.Method, a.Confidence,
			a.Summary, a.RelevanceScore, a.IsThreat, a.ThreatScore, a.CreatedAt,
		).
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build article insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return uuid.Nil, fmt.Errorf("insert article: %w", err)
	}
	return a.ID, nil
}

// PostgresIdentityStore resolves token subjects.
type PostgresIdentityStore struct {
	db Querier
}

// NewPostgresIdentityStore constructs an identity store over an existing pool.
func NewPostgresIdentityStore(db Querier) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

// ResolveSubject implements IdentityStore.
func (s *PostgresIdentityStore) ResolveSubject(ctx context.Context, subject string) (Identity, error) {
	query, args, err := psql.
		Select("id", "external_subject", "role").
		From("identities").
		Where(sq.Eq{"external_subject": subject}).
		Limit(1).
		ToSql()
	if err != nil {
		return Identity{}, fmt.Errorf("build identity query: %w", err)
	}
	var ident Identity
	row := s.db.QueryRow(ctx, query, args...)
	if err := row.Scan(&ident.ID, &ident.Subject, &ident.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	return ident, nil
}

// PostgresPermissionStore answers authorization checks from the permissions
// table.
type PostgresPermissionStore struct {
	db Querier
}

// NewPostgresPermissionStore constructs a permission store over an existing pool.
func NewPostgresPermissionStore(db Querier) *PostgresPermissionStore {
	return &PostgresPermissionStore{db: db}
}

// CanViewDiagnostics implements PermissionStore.
func (s *PostgresPermissionStore) CanViewDiagnostics(ctx context.Context, identityID uuid.UUID) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("permissions").
		Where(sq.Eq{"identity_id": identityID, "permission": "diagnostics:view"}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build permission query: %w", err)
	}
	var one int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scan permission: %w", err)
	}
	return true, nil
}

// Package store declares the persistence interfaces consumed by the probe
// harness and ingestion pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Source is a monitored feed registered by a tenant.
type Source struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	URL      string
	Active   bool
	Keywords []string
}

// Article is a persisted ingestion result.
type Article struct {
	ID             uuid.UUID
	SourceID       *uuid.UUID
	OwnerID        uuid.UUID
	URL            string
	Title          string
	Content        string
	Author         *string
	PublishDate    *time.Time
	Method         string
	Confidence     float64
	Summary        string
	RelevanceScore float64
	IsThreat       bool
	ThreatScore    float64
	CreatedAt      time.Time
}

// Identity maps an external token subject to an internal account.
type Identity struct {
	ID      uuid.UUID
	Subject string
	Role    string
}

// SourceStore looks up registered sources.
type SourceStore interface {
	// GetByURL returns the source registered for url or ErrNotFound.
	GetByURL(ctx context.Context, url string) (Source, error)
	// ListActive returns every active source across tenants.
	ListActive(ctx context.Context) ([]Source, error)
}

// ArticleStore persists ingested articles.
type ArticleStore interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, article Article) (uuid.UUID, error)
}

// IdentityStore resolves external token subjects to internal identities.
type IdentityStore interface {
	// ResolveSubject returns the identity for an external subject or ErrNotFound.
	ResolveSubject(ctx context.Context, subject string) (Identity, error)
}

// PermissionStore answers authorization questions. Callers must treat any
// returned error as a denial (fail-secure).
type PermissionStore interface {
	CanViewDiagnostics(ctx context.Context, identityID uuid.UUID) (bool, error)
}

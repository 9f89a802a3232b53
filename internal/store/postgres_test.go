package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPostgresSourceStoreGetByURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	owner := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "owner_id", "name", "url", "active", "keywords"}).
		AddRow(id, owner, "darkfeed", "https://darkfeed.example/rss", true, []string{"ransomware"})

	mock.ExpectQuery("SELECT id, owner_id, name, url, active, keywords FROM sources").
		WithArgs("https://darkfeed.example/rss").
		WillReturnRows(rows)

	s := NewPostgresSourceStore(mock)
	src, err := s.GetByURL(context.Background(), "https://darkfeed.example/rss")
	require.NoError(t, err)
	require.Equal(t, "darkfeed", src.Name)
	require.Equal(t, id, src.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceStoreGetByURLNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, owner_id, name, url, active, keywords FROM sources").
		WithArgs("https://missing.example").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "name", "url", "active", "keywords"}))

	s := NewPostgresSourceStore(mock)
	_, err = s.GetByURL(context.Background(), "https://missing.example")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresArticleStoreInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresArticleStore(mock)
	id, err := s.Insert(context.Background(), Article{
		OwnerID:   uuid.New(),
		URL:       "https://darkfeed.example/post/1",
		Title:     "New ransomware strain",
		Content:   "body",
		Method:    "static",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArticleStoreExistsByURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT 1 FROM articles").
		WithArgs("https://darkfeed.example/post/1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	s := NewPostgresArticleStore(mock)
	exists, err := s.ExistsByURL(context.Background(), "https://darkfeed.example/post/1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPostgresPermissionStoreDeniesOnNoRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT 1 FROM permissions").
		WithArgs(id.String(), "diagnostics:view").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	s := NewPostgresPermissionStore(mock)
	ok, err := s.CanViewDiagnostics(context.Background(), id)
	require.NoError(t, err)
	require.False(t, ok)
}

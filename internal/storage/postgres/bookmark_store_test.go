package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/poucher/metadata-worker/internal/enrich"
)

const (
	testID  = "4f9c7a0e-6f7b-4c1e-9a53-0c7d2d3b9a11"
	testURL = "https://example.com/post"
)

func newMockStore(t *testing.T) (*BookmarkStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewBookmarkStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestSaveMetadataMergesAndCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	md := enrich.Metadata{Title: "Example Post", Description: "About", FetchedAt: now}
	payload, err := json.Marshal(md)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(title, ''\\), COALESCE\\(description, ''\\) FROM bookmarks WHERE id = \\$1 FOR UPDATE").
		WithArgs(testID).
		WillReturnRows(pgxmock.NewRows([]string{"title", "description"}).AddRow(testURL, "user notes"))
	mock.ExpectExec("UPDATE bookmarks SET").
		WithArgs(testID, "Example Post", "user notes", payload, "ready", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveMetadata(context.Background(), testID, testURL, md, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMetadataMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WithArgs(testID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.SaveMetadata(context.Background(), testID, testURL, enrich.Metadata{}, time.Now())
	require.ErrorIs(t, err, enrich.ErrBookmarkNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMetadataRollsBackOnUpdateError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1, 0).UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WithArgs(testID).
		WillReturnRows(pgxmock.NewRows([]string{"title", "description"}).AddRow("", ""))
	mock.ExpectExec("UPDATE bookmarks").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.SaveMetadata(context.Background(), testID, testURL, enrich.Metadata{FetchedAt: now}, now)
	require.EqualError(t, err, "update bookmark: deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMetadataBeginError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := store.SaveMetadata(context.Background(), testID, testURL, enrich.Metadata{}, time.Now())
	require.EqualError(t, err, "begin: too many connections")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	long := strings.Repeat("e", 900)

	mock.ExpectExec("UPDATE bookmarks SET").
		WithArgs(testID, "failed", strings.Repeat("e", enrich.MaxErrorLength), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkFailed(context.Background(), testID, long, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1, 0).UTC()
	mock.ExpectExec("UPDATE bookmarks").
		WithArgs(testID, "failed", "HTTP 404", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkFailed(context.Background(), testID, "HTTP 404", now)
	require.ErrorIs(t, err, enrich.ErrBookmarkNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewBookmarkStoreWithPool(mock, "bookmarks")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.EqualError(t, store.Ping(context.Background()), "ping postgres: down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewBookmarkStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBookmarkStoreWithPool(nil, "bookmarks")
	require.EqualError(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewBookmarkStoreWithPool(mock, "bookmarks; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewBookmarkStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewBookmarkStore(context.Background(), Config{})
	require.EqualError(t, err, "db.dsn is required")
}

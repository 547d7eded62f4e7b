package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memengine/internal/model"
)

var mockColumns = []string{"id", "owner", "content", "type", "embedding", "confidence", "importance",
	"access_count", "last_accessed", "created_at", "updated_at", "archived_at", "tags", "source", "version"}

func mockRow(version int64) *sqlmock.Rows {
	ts := formatTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return sqlmock.NewRows(mockColumns).AddRow(
		"m1", "u1", "old", "fact", nil, 0.9, 0.5, int64(0), nil, ts, ts, nil, nil, nil, version)
}

func TestUpdateRetriesOnceThenFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newWithDB(db)

	// Both attempts lose the race: another writer bumps the version each time.
	mock.ExpectQuery(`FROM memories WHERE id`).WithArgs("m1").WillReturnRows(mockRow(1))
	mock.ExpectExec(`UPDATE memories SET content`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM memories WHERE id`).WithArgs("m1").WillReturnRows(mockRow(2))
	mock.ExpectExec(`UPDATE memories SET content`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = s.Update(context.Background(), "m1", UpdateParams{Content: str("new")})
	assert.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRetrySucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectQuery(`FROM memories WHERE id`).WithArgs("m1").WillReturnRows(mockRow(1))
	mock.ExpectExec(`UPDATE memories SET content`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM memories WHERE id`).WithArgs("m1").WillReturnRows(mockRow(2))
	mock.ExpectExec(`UPDATE memories SET content`).
		WithArgs("new", "fact", nil, 0.5, 0.9, nil, nil, sqlmock.AnyArg(), "m1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e, err := s.Update(context.Background(), "m1", UpdateParams{Content: str("new")})
	require.NoError(t, err)
	assert.Equal(t, "new", e.Content)
	assert.Equal(t, int64(3), e.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

func TestQueryService_FindAllIsLazy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres, WithStoreLogger(quietLogger()))
	require.NoError(t, err)
	queries := NewQueryService(store, WithQueryLogger(quietLogger()))

	seq := queries.FindAll(context.Background(), &Query{EntityName: "Customer"})
	require.NotNil(t, seq)

	// nothing has been queried yet
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`SELECT .* FROM audit_events WHERE entity_name = \$1`).
		WithArgs("Customer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_name", "action_type", "user_name", "time_stamp", "entity_id", "changes"}).
			AddRow(int64(1), "Customer", "Insert", "alice", baseTime, "", "{}"))

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryService_FindAllIsRestartable(t *testing.T) {
	store := setupStore(t)
	queries := NewQueryService(store, WithQueryLogger(quietLogger()))
	seedEvents(t, store, newEvent("Customer", ActionInsert, "alice", baseTime))

	seq := queries.FindAll(context.Background(), nil)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}

	assert.Equal(t, 1, count())
	assert.Equal(t, 1, count())

	seedEvents(t, store, newEvent("Customer", ActionUpdate, "bob", baseTime))
	assert.Equal(t, 2, count(), "each range reflects the current store")
}

func TestQueryService_FindAllWrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres, WithStoreLogger(quietLogger()))
	require.NoError(t, err)

	metrics := NewMetrics(nil)
	queries := NewQueryService(store, WithQueryLogger(quietLogger()), WithQueryMetrics(metrics))

	cause := errors.New("connection reset by peer")
	mock.ExpectQuery(`SELECT .* FROM audit_events`).WillReturnError(cause)

	var errs []error
	for event, err := range queries.FindAll(context.Background(), nil) {
		assert.Nil(t, event)
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	var repoErr *RepositoryError
	require.True(t, errors.As(errs[0], &repoErr))
	assert.Equal(t, "find", repoErr.Op)
	assert.True(t, errors.Is(errs[0], cause))
	assert.Contains(t, errs[0].Error(), "audit repository: find")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QueryErrorsTotal.WithLabelValues("find")))

	_, err = queries.List(context.Background(), &Query{OrderBy: "bogus"})
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, errors.Is(err, ErrInvalidOrderBy))
}

func TestQueryService_GetAndStats(t *testing.T) {
	store := setupStore(t)
	queries := NewQueryService(store, WithQueryLogger(quietLogger()))
	seedEvents(t, store, newEvent("Customer", ActionInsert, "alice", baseTime))

	event, err := queries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Customer", event.EntityName)

	_, err = queries.Get(context.Background(), 2)
	var repoErr *RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, "get", repoErr.Op)
	assert.True(t, errors.Is(err, ErrEventNotFound))

	stats, err := queries.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
}

func TestQueryService_ListEmpty(t *testing.T) {
	queries := NewQueryService(setupStore(t), WithQueryLogger(quietLogger()))

	events, err := queries.List(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newEvent(entity string, action ActionType, user string, at time.Time, changes ...Change) *AuditEvent {
	return &AuditEvent{
		EntityName: entity,
		ActionType: action,
		UserName:   user,
		TimeStamp:  at,
		Changes:    Changes(changes),
	}
}

func seedEvents(t *testing.T, store *DBStore, events ...*AuditEvent) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, store.Append(context.Background(), e))
	}
}

func collect(t *testing.T, store RecordStore, q *Query) []*AuditEvent {
	t.Helper()
	var out []*AuditEvent
	for event, err := range store.Scan(context.Background(), q) {
		require.NoError(t, err)
		out = append(out, event)
	}
	return out
}

func ids(events []*AuditEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestNewDBStore_RequiresDB(t *testing.T) {
	_, err := NewDBStore(nil, uow.SQLite)
	assert.Error(t, err)
}

func TestDBStore_EnsureSchemaIdempotent(t *testing.T) {
	store := setupStore(t)
	assert.NoError(t, store.EnsureSchema(context.Background()))

	var n int
	err := store.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_audit_events_%'`,
	).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDBStore_AppendAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	event := newEvent("Customer", ActionInsert, "alice", baseTime.In(time.FixedZone("PST", -8*3600)),
		Change{Field: "CustomerNumber", Value: "AB12"},
		Change{Field: "Balance", Value: int64(100)},
	)
	require.NoError(t, store.Append(ctx, event))
	assert.Equal(t, int64(1), event.ID)

	got, err := store.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer", got.EntityName)
	assert.Equal(t, ActionInsert, got.ActionType)
	assert.Equal(t, "alice", got.UserName)
	assert.True(t, baseTime.Equal(got.TimeStamp))
	assert.Equal(t, time.UTC, got.TimeStamp.Location())
	assert.Equal(t, event.Changes, got.Changes)
}

func TestDBStore_AppendDefaults(t *testing.T) {
	store := setupStore(t)
	before := time.Now().Add(-time.Second)

	event := &AuditEvent{EntityName: "Customer", ActionType: ActionDelete, UserName: AnonymousUser}
	require.NoError(t, store.Append(context.Background(), event))

	assert.True(t, event.TimeStamp.After(before))
	assert.NotNil(t, event.Changes)

	got, err := store.Get(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Changes.Len())
}

func TestDBStore_GetNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEventNotFound))
}

func TestDBStore_ScanFilters(t *testing.T) {
	store := setupStore(t)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionUpdate, "bob", baseTime.Add(time.Hour)),
		newEvent("Invoice", ActionInsert, "alice", baseTime.Add(2*time.Hour)),
		newEvent("Customer", ActionDelete, "alice", baseTime.Add(3*time.Hour)),
	)

	since := baseTime.Add(time.Hour)
	until := baseTime.Add(2 * time.Hour)

	tests := []struct {
		name string
		q    *Query
		want []int64
	}{
		{"all", nil, []int64{1, 2, 3, 4}},
		{"entity", &Query{EntityName: "Customer", OrderBy: "id"}, []int64{1, 2, 4}},
		{"user", &Query{UserName: "bob"}, []int64{2}},
		{"actions", &Query{ActionTypes: []ActionType{ActionInsert, ActionDelete}, OrderBy: "id"}, []int64{1, 3, 4}},
		{"inclusive range", &Query{Since: &since, Until: &until, OrderBy: "id"}, []int64{2, 3}},
		{"descending", &Query{OrderBy: "time_stamp", Descending: true}, []int64{4, 3, 2, 1}},
		{"limit offset", &Query{OrderBy: "id", Limit: 2, Offset: 1}, []int64{2, 3}},
		{"offset only", &Query{OrderBy: "id", Offset: 3}, []int64{4}},
		{"combined", &Query{EntityName: "Customer", UserName: "alice", OrderBy: "timestamp", Descending: true}, []int64{4, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(collect(t, store, tt.q))
			if tt.q == nil || tt.q.OrderBy == "" {
				assert.ElementsMatch(t, tt.want, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDBStore_ScanWherePagesAfterFiltering(t *testing.T) {
	store := setupStore(t)
	for i := 0; i < 6; i++ {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		seedEvents(t, store, newEvent("Customer", ActionUpdate, user, baseTime.Add(time.Duration(i)*time.Minute)))
	}

	q := &Query{
		OrderBy: "id",
		Where:   func(e *AuditEvent) bool { return e.UserName == "bob" },
		Limit:   2,
		Offset:  1,
	}
	assert.Equal(t, []int64{4, 6}, ids(collect(t, store, q)))
}

func TestDBStore_ScanInvalidOrderBy(t *testing.T) {
	store := setupStore(t)

	var errs []error
	for _, err := range store.Scan(context.Background(), &Query{OrderBy: "changes; DROP TABLE audit_events"}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrInvalidOrderBy))
}

func TestDBStore_ScanStopsEarly(t *testing.T) {
	store := setupStore(t)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionInsert, "alice", baseTime),
	)

	n := 0
	for range store.Scan(context.Background(), &Query{OrderBy: "id"}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	// the connection was released, so the store is still usable
	_, err := store.Get(context.Background(), 3)
	assert.NoError(t, err)
}

func TestDBStore_Stats(t *testing.T) {
	store := setupStore(t)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionUpdate, "bob", baseTime.Add(time.Hour)),
		newEvent("Invoice", ActionInsert, "alice", baseTime.Add(2*time.Hour)),
	)

	stats, err := store.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, map[string]int64{"Customer": 2, "Invoice": 1}, stats.EventsByEntity)
	assert.Equal(t, map[ActionType]int64{ActionInsert: 2, ActionUpdate: 1}, stats.EventsByAction)
	assert.Nil(t, stats.TimeRange)

	since := baseTime.Add(30 * time.Minute)
	stats, err = store.Stats(context.Background(), &Query{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
	require.NotNil(t, stats.TimeRange)
	assert.Equal(t, since, stats.TimeRange.Start)
}

func TestDBStore_Purge(t *testing.T) {
	store := setupStore(t, WithStoreLogger(quietLogger()))
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime.AddDate(0, 0, -10)),
		newEvent("Customer", ActionUpdate, "alice", baseTime.AddDate(0, 0, -5)),
		newEvent("Customer", ActionUpdate, "alice", baseTime),
	)

	n, err := store.Purge(context.Background(), baseTime.AddDate(0, 0, -5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []int64{2, 3}, ids(collect(t, store, &Query{OrderBy: "id"})))
}

func TestDBStore_PostgresAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres, WithStoreLogger(quietLogger()))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO audit_events (entity_name, action_type, user_name, time_stamp, entity_id, changes) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
	)).
		WithArgs("Customer", "Insert", "alice", baseTime, "", `{"Name":"Acme"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	event := newEvent("Customer", ActionInsert, "alice", baseTime, Change{Field: "Name", Value: "Acme"})
	require.NoError(t, store.Append(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_PostgresScan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres, WithStoreLogger(quietLogger()))
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "entity_name", "action_type", "user_name", "time_stamp", "entity_id", "changes"}).
		AddRow(int64(7), "Customer", "Update", "alice", baseTime, "3", []byte(`{"Name":"Acme"}`))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, entity_name, action_type, user_name, time_stamp, entity_id, changes FROM audit_events WHERE entity_name = $1 AND action_type = ANY($2) ORDER BY time_stamp DESC LIMIT $3 OFFSET $4`,
	)).
		WithArgs("Customer", sqlmock.AnyArg(), 10, 5).
		WillReturnRows(rows)

	events := collect(t, store, &Query{
		EntityName:  "Customer",
		ActionTypes: []ActionType{ActionUpdate, ActionDelete},
		OrderBy:     "time_stamp",
		Descending:  true,
		Limit:       10,
		Offset:      5,
	})

	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, ActionUpdate, events[0].ActionType)
	assert.Equal(t, "3", events[0].EntityID)
	name, _ := events[0].Changes.Get("Name")
	assert.Equal(t, "Acme", name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_PostgresGetAndPurge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres, WithStoreLogger(quietLogger()))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM audit_events WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_name", "action_type", "user_name", "time_stamp", "entity_id", "changes"}))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_events WHERE time_stamp < $1`)).
		WithArgs(baseTime).
		WillReturnResult(sqlmock.NewResult(0, 12))

	_, err = store.Get(context.Background(), 9)
	assert.True(t, errors.Is(err, ErrEventNotFound))

	n, err := store.Purge(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_PostgresSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db, uow.Postgres)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_events \(\s+id BIGSERIAL PRIMARY KEY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_audit_events_lookup\s+ON audit_events\(md5\(changes::text\), user_name`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_audit_events_time_stamp`).
		WillReturnError(errors.New("permission denied"))

	err = store.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

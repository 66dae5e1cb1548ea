package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/models"
)

var rowColumns = []string{"id", "requester_id", "lat", "lon", "issue_type",
	"vehicle_name", "vehicle_model", "vehicle_fuel_type", "vehicle_type", "vehicle_last_service_date",
	"status", "assigned_provider", "rejected_by", "created_at", "updated_at"}

func newPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock, func() { db.Close() }
}

func TestPostgresStoreCreateAndGet(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r := newRequest("r1", "u1", now)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emergency_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Create(context.Background(), r))

	rows := sqlmock.NewRows(rowColumns).
		AddRow("r1", "u1", 12.97, 77.59, "flat tire", "Activa", "2020", "Petrol", "motorcycle", "Not Available",
			"Accepted", "m2", []byte("{m1}"), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id")).
		WithArgs("r1").
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	require.NotNil(t, got.AssignedProvider)
	assert.Equal(t, "m2", *got.AssignedProvider)
	assert.Equal(t, []string{"m1"}, got.RejectedBy)
	assert.Equal(t, models.VehicleMotorcycle, got.Vehicle.VehicleType)
	assert.Equal(t, models.Coord{Lat: 12.97, Lon: 77.59}, got.Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreClaimIsGuardedUpdate(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	ctx := context.Background()

	claim := `UPDATE emergency_requests\s+SET status = 'Accepted', assigned_provider = \$2, updated_at = \$3\s+WHERE id = \$1 AND status = 'Pending' AND NOT \(\$2 = ANY\(rejected_by\)\)`
	mock.ExpectExec(claim).
		WithArgs("r1", "m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).
		WithArgs("r1", "m2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Claim(ctx, "r1", "m1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "r1", "m2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRejectAndResolve(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(`SET rejected_by = array_append\(rejected_by, \$2\)`).
		WithArgs("r1", "m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'Completed'`).
		WithArgs("r2", "m2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'Cancelled', assigned_provider = NULL, rejected_by = array_append`).
		WithArgs("r3", "m3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.AddRejection(ctx, "r1", "m1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Resolve(ctx, "r2", "m2", models.StatusCompleted, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Resolve(ctx, "r3", "m3", models.StatusCancelled, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Resolve(ctx, "r3", "m3", models.StatusAccepted, time.Now())
	require.ErrorIs(t, err, ErrBadOutcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListPendingExcludesProvider(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(rowColumns).
		AddRow("r1", "u1", 1.0, 2.0, "battery", "Swift", "2019", "Diesel", "car", "2024-01-01",
			"Pending", nil, []byte("{}"), now, now).
		AddRow("r2", "u2", 1.1, 2.1, "engine", "Activa", "2020", "Petrol", "motorcycle", "Not Available",
			"Pending", nil, []byte("{m9}"), now.Add(time.Second), now)
	mock.ExpectQuery(`WHERE status = 'Pending' AND NOT \(\$1 = ANY\(rejected_by\)\)\s+ORDER BY created_at ASC, id ASC`).
		WithArgs("m1").
		WillReturnRows(rows)

	got, err := store.ListPending(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].AssignedProvider)
	assert.Empty(t, got[0].RejectedBy)
	assert.Equal(t, []string{"m9"}, got[1].RejectedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListByRequesterStatuses(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(`WHERE requester_id = \$1 AND status = ANY\(\$2\) ORDER BY created_at DESC`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(rowColumns))
	mock.ExpectQuery(`WHERE requester_id = \$1 ORDER BY created_at DESC`).
		WithArgs("u1").
		WillReturnError(errors.New("boom"))

	got, err := store.ListByRequester(context.Background(), "u1", models.StatusAccepted)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.ListByRequester(context.Background(), "u1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

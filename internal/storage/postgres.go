package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

const requestColumns = `id, requester_id, lat, lon, issue_type,
	vehicle_name, vehicle_model, vehicle_fuel_type, vehicle_type, vehicle_last_service_date,
	status, assigned_provider, rejected_by, created_at, updated_at`

type requestRow struct {
	ID                     string         `db:"id"`
	RequesterID            string         `db:"requester_id"`
	Lat                    float64        `db:"lat"`
	Lon                    float64        `db:"lon"`
	IssueType              string         `db:"issue_type"`
	VehicleName            string         `db:"vehicle_name"`
	VehicleModel           string         `db:"vehicle_model"`
	VehicleFuelType        string         `db:"vehicle_fuel_type"`
	VehicleType            string         `db:"vehicle_type"`
	VehicleLastServiceDate string         `db:"vehicle_last_service_date"`
	Status                 string         `db:"status"`
	AssignedProvider       sql.NullString `db:"assigned_provider"`
	RejectedBy             pq.StringArray `db:"rejected_by"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func toRow(r *models.EmergencyRequest) requestRow {
	row := requestRow{
		ID:                     r.ID,
		RequesterID:            r.RequesterID,
		Lat:                    r.Location.Lat,
		Lon:                    r.Location.Lon,
		IssueType:              r.IssueType,
		VehicleName:            r.Vehicle.Name,
		VehicleModel:           r.Vehicle.Model,
		VehicleFuelType:        r.Vehicle.FuelType,
		VehicleType:            string(r.Vehicle.VehicleType),
		VehicleLastServiceDate: r.Vehicle.LastServiceDate,
		Status:                 string(r.Status),
		RejectedBy:             pq.StringArray(r.RejectedBy),
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if row.RejectedBy == nil {
		row.RejectedBy = pq.StringArray{}
	}
	if r.AssignedProvider != nil {
		row.AssignedProvider = sql.NullString{String: *r.AssignedProvider, Valid: true}
	}
	return row
}

func (row requestRow) model() *models.EmergencyRequest {
	r := &models.EmergencyRequest{
		ID:          row.ID,
		RequesterID: row.RequesterID,
		Location:    models.Coord{Lat: row.Lat, Lon: row.Lon},
		IssueType:   row.IssueType,
		Vehicle: models.Vehicle{
			Name:            row.VehicleName,
			Model:           row.VehicleModel,
			FuelType:        row.VehicleFuelType,
			VehicleType:     models.VehicleType(row.VehicleType),
			LastServiceDate: row.VehicleLastServiceDate,
		},
		Status:     models.Status(row.Status),
		RejectedBy: []string(row.RejectedBy),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if r.RejectedBy == nil {
		r.RejectedBy = []string{}
	}
	if row.AssignedProvider.Valid {
		p := row.AssignedProvider.String
		r.AssignedProvider = &p
	}
	return r
}

// PostgresStore persists requests in the emergency_requests table
// (migrations/001_create_emergency_requests.sql).
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects and pings.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Create(ctx context.Context, r *models.EmergencyRequest) error {
	const query = `INSERT INTO emergency_requests (` + requestColumns + `)
	VALUES (:id, :requester_id, :lat, :lon, :issue_type,
	:vehicle_name, :vehicle_model, :vehicle_fuel_type, :vehicle_type, :vehicle_last_service_date,
	:status, :assigned_provider, :rejected_by, :created_at, :updated_at)`
	if _, err := p.db.NamedExecContext(ctx, query, toRow(r)); err != nil {
		return fmt.Errorf("create emergency request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM emergency_requests WHERE id = $1`
	var row requestRow
	if err := p.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get emergency request: %w", err)
	}
	return row.model(), nil
}

func (p *PostgresStore) ListPending(ctx context.Context, excludeProvider string) ([]*models.EmergencyRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM emergency_requests
	WHERE status = 'Pending' AND NOT ($1 = ANY(rejected_by))
	ORDER BY created_at ASC, id ASC`
	return p.selectRequests(ctx, "list pending requests", query, excludeProvider)
}

func (p *PostgresStore) ListByRequester(ctx context.Context, requesterID string, statuses ...models.Status) ([]*models.EmergencyRequest, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + requestColumns + ` FROM emergency_requests WHERE requester_id = $1`)
	args := []interface{}{requesterID}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, s := range statuses {
			names = append(names, string(s))
		}
		args = append(args, pq.StringArray(names))
		builder.WriteString(fmt.Sprintf(" AND status = ANY($%d)", len(args)))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")
	return p.selectRequests(ctx, "list requester requests", builder.String(), args...)
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string) ([]*models.EmergencyRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM emergency_requests
	WHERE assigned_provider = $1
	ORDER BY created_at DESC, id DESC`
	return p.selectRequests(ctx, "list provider requests", query, providerID)
}

func (p *PostgresStore) Claim(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	const query = `UPDATE emergency_requests
	SET status = 'Accepted', assigned_provider = $2, updated_at = $3
	WHERE id = $1 AND status = 'Pending' AND NOT ($2 = ANY(rejected_by))`
	return p.guardedExec(ctx, "claim request", query, id, providerID, at)
}

func (p *PostgresStore) AddRejection(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	const query = `UPDATE emergency_requests
	SET rejected_by = array_append(rejected_by, $2), updated_at = $3
	WHERE id = $1 AND status = 'Pending' AND NOT ($2 = ANY(rejected_by))`
	return p.guardedExec(ctx, "reject request", query, id, providerID, at)
}

func (p *PostgresStore) Resolve(ctx context.Context, id, providerID string, to models.Status, at time.Time) (bool, error) {
	var query string
	switch to {
	case models.StatusCompleted:
		query = `UPDATE emergency_requests
	SET status = 'Completed', updated_at = $3
	WHERE id = $1 AND status = 'Accepted' AND assigned_provider = $2`
	case models.StatusCancelled:
		query = `UPDATE emergency_requests
	SET status = 'Cancelled', assigned_provider = NULL, rejected_by = array_append(rejected_by, $2), updated_at = $3
	WHERE id = $1 AND status = 'Accepted' AND assigned_provider = $2`
	default:
		return false, ErrBadOutcome
	}
	return p.guardedExec(ctx, "resolve request", query, id, providerID, at)
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) guardedExec(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected == 1, nil
}

func (p *PostgresStore) selectRequests(ctx context.Context, op, query string, args ...interface{}) ([]*models.EmergencyRequest, error) {
	var rows []requestRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*models.EmergencyRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrConflict reports an alert whose natural id is already stored. Callers
	// treat it as success: the row they wanted exists.
	ErrConflict = errors.New("storage: alert_candid already stored")
	// ErrNotFound reports an unknown alert_candid.
	ErrNotFound = errors.New("storage: alert not found")
)

const uniqueViolation = "23505"

// sphereRadiusMeters is the sphere PostGIS uses when use_spheroid is false.
const sphereRadiusMeters = 6371008.7714

// PersistenceError is any storage fault other than a duplicate natural id.
// The write was rolled back.
type PersistenceError struct {
	Op     string
	Candid int64
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist alert %d: %s: %v", e.Candid, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var (
	insertNonDetectionSQL = `INSERT INTO non_detections (
        object_id,
        jd,
        fid,
        diffmaglim
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (object_id, jd, fid) DO NOTHING;`

	lookupAlertSQL = `SELECT ` + selectAlertCols + `
    FROM alerts
    WHERE alert_candid = $1;`

	coneSQL = `SELECT ` + selectAlertCols + `
    FROM alerts
    WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3, false)
      AND alert_candid <> $4
      AND ($5::float8 IS NULL OR jd < $5)
    ORDER BY jd DESC;`

	recentAlertsSQL = `SELECT ` + selectAlertCols + `
    FROM alerts
    ORDER BY jd DESC
    LIMIT $1;`

	listNonDetectionsSQL = `SELECT
        object_id,
        jd,
        fid,
        diffmaglim
    FROM non_detections
    WHERE object_id = $1
    ORDER BY jd DESC;`
)

// AlertWriter persists alerts idempotently on alert_candid.
type AlertWriter interface {
	Upsert(ctx context.Context, rec AlertRecord, nonDetections []NonDetection) error
}

// HistoryReader answers spatial and temporal history queries.
type HistoryReader interface {
	History(ctx context.Context, candid int64, radiusArcsec float64) ([]AlertRecord, error)
	Cone(ctx context.Context, q ConeQuery) ([]AlertRecord, error)
	NonDetections(ctx context.Context, objectID string) ([]NonDetection, error)
}

// AlertReader exposes point lookups and listings.
type AlertReader interface {
	Lookup(ctx context.Context, candid int64) (AlertRecord, error)
	RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AlertStore is the full persistence surface.
type AlertStore interface {
	AlertWriter
	HistoryReader
	AlertReader
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists alerts in PostgreSQL/PostGIS.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getDB() (DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Upsert inserts rec and its non-detections in one transaction. A stored
// alert_candid yields ErrConflict and leaves the existing row untouched; any
// other fault rolls back and yields *PersistenceError.
func (s *Store) Upsert(ctx context.Context, rec AlertRecord, nonDetections []NonDetection) error {
	db, err := s.getDB()
	if err != nil {
		return &PersistenceError{Op: "connect", Candid: rec.AlertCandid, Err: err}
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin", Candid: rec.AlertCandid, Err: err}
	}

	tag, err := tx.Exec(ctx, insertAlertSQL, insertArgs(&rec)...)
	if err != nil {
		return s.abort(ctx, tx, "insert alert", rec.AlertCandid, err)
	}
	if tag.RowsAffected() == 0 {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return &PersistenceError{Op: "rollback", Candid: rec.AlertCandid, Err: rbErr}
		}
		return ErrConflict
	}

	for _, nd := range nonDetections {
		if _, err := tx.Exec(ctx, insertNonDetectionSQL, nd.ObjectID, nd.JD, nd.Fid, nd.DiffMagLim); err != nil {
			return s.abort(ctx, tx, "insert non-detection", rec.AlertCandid, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return &PersistenceError{Op: "commit", Candid: rec.AlertCandid, Err: err}
	}
	return nil
}

// abort rolls back and classifies err. A unique violation raced in by another
// writer is still a conflict, not a fault.
func (s *Store) abort(ctx context.Context, tx pgx.Tx, op string, candid int64, err error) error {
	rbErr := tx.Rollback(ctx)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if rbErr != nil {
		err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return &PersistenceError{Op: op, Candid: candid, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Lookup loads one alert by natural id.
func (s *Store) Lookup(ctx context.Context, candid int64) (AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, err
	}

	var rec AlertRecord
	if err := db.QueryRow(ctx, lookupAlertSQL, candid).Scan(scanDest(&rec)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AlertRecord{}, ErrNotFound
		}
		return AlertRecord{}, fmt.Errorf("lookup alert: %w", err)
	}
	return rec, nil
}

// History returns the other alerts within radiusArcsec of the given alert,
// newest first.
func (s *Store) History(ctx context.Context, candid int64, radiusArcsec float64) ([]AlertRecord, error) {
	origin, err := s.Lookup(ctx, candid)
	if err != nil {
		return nil, err
	}
	return s.Cone(ctx, ConeQuery{
		RA:            origin.RA,
		Dec:           origin.Dec,
		RadiusArcsec:  radiusArcsec,
		ExcludeCandid: candid,
	})
}

// Cone lists alerts around a position, newest first.
func (s *Store) Cone(ctx context.Context, q ConeQuery) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, coneSQL,
		GeographyLongitude(q.RA),
		q.Dec,
		ArcsecToMeters(q.RadiusArcsec),
		q.ExcludeCandid,
		q.BeforeJD,
	)
	if err != nil {
		return nil, fmt.Errorf("cone search: %w", err)
	}
	return collectAlerts(rows)
}

// RecentAlerts lists the most recently observed alerts.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, recentAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	return collectAlerts(rows)
}

// NonDetections lists the stored upper limits of an object, newest first.
func (s *Store) NonDetections(ctx context.Context, objectID string) ([]NonDetection, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, listNonDetectionsSQL, objectID)
	if err != nil {
		return nil, fmt.Errorf("list non-detections: %w", err)
	}
	defer rows.Close()

	out := make([]NonDetection, 0)
	for rows.Next() {
		var nd NonDetection
		if err := rows.Scan(&nd.ObjectID, &nd.JD, &nd.Fid, &nd.DiffMagLim); err != nil {
			return nil, err
		}
		out = append(out, nd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func collectAlerts(rows pgx.Rows) ([]AlertRecord, error) {
	defer rows.Close()

	out := make([]AlertRecord, 0)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(scanDest(&rec)...); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ArcsecToMeters converts an angular radius into the great-circle distance
// ST_DWithin expects on the PostGIS sphere.
func ArcsecToMeters(arcsec float64) float64 {
	return arcsec / 3600 * math.Pi / 180 * sphereRadiusMeters
}

var _ AlertStore = (*Store)(nil)

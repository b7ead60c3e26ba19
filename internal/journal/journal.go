// Package journal stores controller sessions, accepted commands, state
// transitions and measurements in SQLite.
package journal

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/afma4/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Component("journal")

// Journal is a SQLite-backed activity log.
type Journal struct {
	db *sql.DB
}

// Session is one controller lifetime.
type Session struct {
	ID      uuid.UUID
	Model   string
	Started time.Time
}

// CommandRow is a journaled command.
type CommandRow struct {
	Kind   string
	Frame  string
	Values []float64
	Joints []float64
	Time   time.Time
}

// TransitionRow is a journaled state change.
type TransitionRow struct {
	From string
	To   string
	Time time.Time
}

// MeasurementRow is a journaled measurement.
type MeasurementRow struct {
	Kind   string
	Frame  string
	Values []float64
	Time   time.Time
}

// Open opens (creating if needed) the journal at path and migrates it to the
// latest schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the controller records from a single goroutine at a time
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	j := &Journal{db: db}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// MigrateUp applies pending migrations. It is a no-op at the latest version.
func (j *Journal) MigrateUp() error {
	// m is not closed: that would close the shared *sql.DB
	m, err := j.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag; 0 when no
// migration has run.
func (j *Journal) MigrateVersion() (uint, bool, error) {
	m, err := j.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

func encode(v []float64) (string, error) {
	if v == nil {
		v = []float64{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decode(s string) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// BeginSession registers a controller session. Registering the same id twice
// is not an error.
func (j *Journal) BeginSession(id uuid.UUID, model string, started time.Time) error {
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO sessions (session_id, model, started_at) VALUES (?, ?, ?)`,
		id.String(), model, started.UnixNano(),
	)
	return err
}

// RecordCommand stores an accepted command.
func (j *Journal) RecordCommand(session uuid.UUID, c CommandRow) error {
	vals, err := encode(c.Values)
	if err != nil {
		return err
	}
	joints, err := encode(c.Joints)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(
		`INSERT INTO commands (session_id, kind, frame, vals, joints, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session.String(), c.Kind, c.Frame, vals, joints, c.Time.UnixNano(),
	)
	return err
}

// RecordTransition stores a state change.
func (j *Journal) RecordTransition(session uuid.UUID, t TransitionRow) error {
	_, err := j.db.Exec(
		`INSERT INTO state_transitions (session_id, from_state, to_state, recorded_at) VALUES (?, ?, ?, ?)`,
		session.String(), t.From, t.To, t.Time.UnixNano(),
	)
	return err
}

// RecordMeasurement stores a measurement.
func (j *Journal) RecordMeasurement(session uuid.UUID, m MeasurementRow) error {
	vals, err := encode(m.Values)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(
		`INSERT INTO measurements (session_id, kind, frame, vals, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		session.String(), m.Kind, m.Frame, vals, m.Time.UnixNano(),
	)
	return err
}

// Sessions lists sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	rows, err := j.db.Query(`SELECT session_id, model, started_at FROM sessions ORDER BY started_at, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var id, model string
		var started int64
		if err := rows.Scan(&id, &model, &started); err != nil {
			return nil, err
		}
		sid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", id, err)
		}
		out = append(out, Session{ID: sid, Model: model, Started: time.Unix(0, started).UTC()})
	}
	return out, rows.Err()
}

// Commands returns the session's commands in time order.
func (j *Journal) Commands(session uuid.UUID) ([]CommandRow, error) {
	rows, err := j.db.Query(
		`SELECT kind, frame, vals, joints, recorded_at FROM commands WHERE session_id = ? ORDER BY recorded_at, command_id`,
		session.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		var vals, joints string
		var at int64
		if err := rows.Scan(&c.Kind, &c.Frame, &vals, &joints, &at); err != nil {
			return nil, err
		}
		if c.Values, err = decode(vals); err != nil {
			return nil, err
		}
		if c.Joints, err = decode(joints); err != nil {
			return nil, err
		}
		c.Time = time.Unix(0, at).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transitions returns the session's state changes in time order.
func (j *Journal) Transitions(session uuid.UUID) ([]TransitionRow, error) {
	rows, err := j.db.Query(
		`SELECT from_state, to_state, recorded_at FROM state_transitions WHERE session_id = ? ORDER BY recorded_at, transition_id`,
		session.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var t TransitionRow
		var at int64
		if err := rows.Scan(&t.From, &t.To, &at); err != nil {
			return nil, err
		}
		t.Time = time.Unix(0, at).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Measurements returns the session's measurements of one kind in time order.
// An empty kind returns every kind.
func (j *Journal) Measurements(session uuid.UUID, kind string) ([]MeasurementRow, error) {
	rows, err := j.db.Query(
		`SELECT kind, frame, vals, recorded_at FROM measurements
		 WHERE session_id = ? AND (? = '' OR kind = ?)
		 ORDER BY recorded_at, measurement_id`,
		session.String(), kind, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeasurementRow
	for rows.Next() {
		var m MeasurementRow
		var vals string
		var at int64
		if err := rows.Scan(&m.Kind, &m.Frame, &vals, &at); err != nil {
			return nil, err
		}
		if m.Values, err = decode(vals); err != nil {
			return nil, err
		}
		m.Time = time.Unix(0, at).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

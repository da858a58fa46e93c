package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/suas/interop/missions"
)

// SQLite is a missions.Store backed by a local SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ missions.Store = (*SQLite)(nil)

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (d *SQLite) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the mission tables if they do not exist.
func (d *SQLite) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		home_latitude REAL NOT NULL,
		home_longitude REAL NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS missions_single_active ON missions(is_active) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS gps_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS aerial_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gps_position_id INTEGER NOT NULL REFERENCES gps_positions(id),
		altitude_msl REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS waypoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
		position_id INTEGER NOT NULL REFERENCES aerial_positions(id),
		sequence INTEGER NOT NULL CHECK (sequence >= 1)
	);

	CREATE INDEX IF NOT EXISTS idx_waypoints_mission ON waypoints(mission_id, sequence);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx used for reads.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMission(row rowScanner) (missions.Mission, error) {
	var m missions.Mission
	var created, updated string
	if err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Active,
		&m.HomePos.Latitude,
		&m.HomePos.Longitude,
		&m.Notes,
		&created,
		&updated,
	); err != nil {
		return m, err
	}

	var err error
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return m, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return m, fmt.Errorf("parse updated_at: %w", err)
	}
	return m, nil
}

func (d *SQLite) stamp() string {
	return d.now().Format(time.RFC3339Nano)
}

// ListMissions returns every mission ordered by id.
func (d *SQLite) ListMissions(ctx context.Context) ([]missions.Mission, error) {
	return queryMissionsSQL(ctx, d.db, `SELECT `+missionColumns+` FROM missions ORDER BY id`)
}

// ActiveMissions returns every mission flagged active.
func (d *SQLite) ActiveMissions(ctx context.Context) ([]missions.Mission, error) {
	return queryMissionsSQL(ctx, d.db, `SELECT `+missionColumns+` FROM missions WHERE is_active = 1 ORDER BY id`)
}

// GetMission returns the mission with the given id.
func (d *SQLite) GetMission(ctx context.Context, id int64) (missions.Mission, error) {
	return getMissionSQL(ctx, d.db, id)
}

// CreateMission inserts an inactive mission without waypoints.
func (d *SQLite) CreateMission(ctx context.Context, nm missions.NewMission) (missions.Mission, error) {
	now := d.stamp()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO missions (name, home_latitude, home_longitude, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nm.Name, nm.HomePos.Latitude, nm.HomePos.Longitude, nm.Notes, now, now,
	)
	if err != nil {
		return missions.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return missions.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	return getMissionSQL(ctx, d.db, id)
}

// SetActive makes id the single active mission.
func (d *SQLite) SetActive(ctx context.Context, id int64) (missions.Mission, error) {
	var out missions.Mission
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := d.stamp()
		if _, err := tx.ExecContext(ctx, `UPDATE missions SET is_active = 0, updated_at = ? WHERE is_active = 1 AND id <> ?`, now, id); err != nil {
			return fmt.Errorf("deactivate missions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE missions SET is_active = 1, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("activate mission: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("activate mission: %w", err)
		} else if n == 0 {
			return missions.ErrNotFound
		}

		out, err = getMissionSQL(ctx, tx, id)
		return err
	})
	return out, err
}

// ReplaceWaypoints swaps the mission's waypoints for positions in a single
// transaction.
func (d *SQLite) ReplaceWaypoints(ctx context.Context, id int64, positions []missions.AerialPosition) (missions.Mission, error) {
	var out missions.Mission
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE missions SET updated_at = ? WHERE id = ?`, d.stamp(), id)
		if err != nil {
			return fmt.Errorf("touch mission: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("touch mission: %w", err)
		} else if n == 0 {
			return missions.ErrNotFound
		}

		if err := deleteWaypointsSQL(ctx, tx, id); err != nil {
			return err
		}

		for i, p := range positions {
			res, err := tx.ExecContext(ctx, `INSERT INTO gps_positions (latitude, longitude) VALUES (?, ?)`, p.Latitude, p.Longitude)
			if err != nil {
				return fmt.Errorf("insert gps position: %w", err)
			}
			gpsID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert gps position: %w", err)
			}

			res, err = tx.ExecContext(ctx, `INSERT INTO aerial_positions (gps_position_id, altitude_msl) VALUES (?, ?)`, gpsID, p.AltitudeMSL)
			if err != nil {
				return fmt.Errorf("insert aerial position: %w", err)
			}
			positionID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert aerial position: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `INSERT INTO waypoints (mission_id, position_id, sequence) VALUES (?, ?, ?)`, id, positionID, i+1); err != nil {
				return fmt.Errorf("insert waypoint: %w", err)
			}
		}

		out, err = getMissionSQL(ctx, tx, id)
		return err
	})
	return out, err
}

func (d *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteWaypointsSQL(ctx context.Context, tx *sql.Tx, missionID int64) error {
	positionIDs, err := collectIDs(tx.QueryContext(ctx, `DELETE FROM waypoints WHERE mission_id = ? RETURNING position_id`, missionID))
	if err != nil {
		return fmt.Errorf("delete waypoints: %w", err)
	}
	for _, positionID := range positionIDs {
		var gpsID int64
		if err := tx.QueryRowContext(ctx, `DELETE FROM aerial_positions WHERE id = ? RETURNING gps_position_id`, positionID).Scan(&gpsID); err != nil {
			return fmt.Errorf("delete aerial position: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM gps_positions WHERE id = ?`, gpsID); err != nil {
			return fmt.Errorf("delete gps position: %w", err)
		}
	}
	return nil
}

func collectIDs(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getMissionSQL(ctx context.Context, q dbtx, id int64) (missions.Mission, error) {
	m, err := scanSQLiteMission(q.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return missions.Mission{}, missions.ErrNotFound
	}
	if err != nil {
		return missions.Mission{}, fmt.Errorf("load mission: %w", err)
	}

	byMission, err := loadWaypointsSQL(ctx, q, []int64{id})
	if err != nil {
		return missions.Mission{}, err
	}
	m.Waypoints = byMission[id]
	return m, nil
}

func queryMissionsSQL(ctx context.Context, q dbtx, query string, args ...any) ([]missions.Mission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missions: %w", err)
	}

	var out []missions.Mission
	for rows.Next() {
		m, err := scanSQLiteMission(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query missions: %w", err)
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	byMission, err := loadWaypointsSQL(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Waypoints = byMission[out[i].ID]
	}
	return out, nil
}

func loadWaypointsSQL(ctx context.Context, q dbtx, missionIDs []int64) (map[int64][]missions.Waypoint, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(missionIDs)), ",")
	args := make([]any, 0, len(missionIDs))
	for _, id := range missionIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT w.mission_id, w.id, w.sequence, g.latitude, g.longitude, a.altitude_msl
		 FROM waypoints w
		 JOIN aerial_positions a ON a.id = w.position_id
		 JOIN gps_positions g ON g.id = a.gps_position_id
		 WHERE w.mission_id IN (`+placeholders+`)
		 ORDER BY w.mission_id, w.sequence, w.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query waypoints: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]missions.Waypoint, len(missionIDs))
	for rows.Next() {
		var missionID int64
		var wp missions.Waypoint
		if err := rows.Scan(
			&missionID,
			&wp.ID,
			&wp.Order,
			&wp.Position.Latitude,
			&wp.Position.Longitude,
			&wp.Position.AltitudeMSL,
		); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		out[missionID] = append(out[missionID], wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query waypoints: %w", err)
	}
	return out, nil
}

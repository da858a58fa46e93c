package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suas/interop/missions"
)

// activationLockKey names the advisory lock held while switching the active
// mission.
const activationLockKey int64 = 0x696e746572

// Postgres is a missions.Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ missions.Store = (*Postgres)(nil)

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (d *Postgres) Close() error {
	d.pool.Close()
	return nil
}

// EnsureSchema creates the mission tables if they do not exist.
func (d *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS missions (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT FALSE,
            home_latitude DOUBLE PRECISION NOT NULL,
            home_longitude DOUBLE PRECISION NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS missions_single_active ON missions (is_active) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS gps_positions (
            id BIGSERIAL PRIMARY KEY,
            latitude DOUBLE PRECISION NOT NULL,
            longitude DOUBLE PRECISION NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS aerial_positions (
            id BIGSERIAL PRIMARY KEY,
            gps_position_id BIGINT NOT NULL REFERENCES gps_positions(id),
            altitude_msl DOUBLE PRECISION NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS waypoints (
            id BIGSERIAL PRIMARY KEY,
            mission_id BIGINT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
            position_id BIGINT NOT NULL REFERENCES aerial_positions(id),
            sequence INTEGER NOT NULL CHECK (sequence >= 1)
        )`,
		`CREATE INDEX IF NOT EXISTS waypoints_mission_sequence ON waypoints (mission_id, sequence)`,
	}

	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const missionColumns = `id, name, is_active, home_latitude, home_longitude, notes, created_at, updated_at`

func scanMission(row pgx.Row) (missions.Mission, error) {
	var m missions.Mission
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Active,
		&m.HomePos.Latitude,
		&m.HomePos.Longitude,
		&m.Notes,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// ListMissions returns every mission ordered by id.
func (d *Postgres) ListMissions(ctx context.Context) ([]missions.Mission, error) {
	return d.queryMissions(ctx, d.pool, `SELECT `+missionColumns+` FROM missions ORDER BY id`)
}

// ActiveMissions returns every mission flagged active.
func (d *Postgres) ActiveMissions(ctx context.Context) ([]missions.Mission, error) {
	return d.queryMissions(ctx, d.pool, `SELECT `+missionColumns+` FROM missions WHERE is_active ORDER BY id`)
}

// GetMission returns the mission with the given id.
func (d *Postgres) GetMission(ctx context.Context, id int64) (missions.Mission, error) {
	return d.getMission(ctx, d.pool, id)
}

// CreateMission inserts an inactive mission without waypoints.
func (d *Postgres) CreateMission(ctx context.Context, nm missions.NewMission) (missions.Mission, error) {
	row := d.pool.QueryRow(ctx,
		`INSERT INTO missions (name, home_latitude, home_longitude, notes)
         VALUES ($1, $2, $3, $4)
         RETURNING `+missionColumns,
		nm.Name, nm.HomePos.Latitude, nm.HomePos.Longitude, nm.Notes,
	)
	m, err := scanMission(row)
	if err != nil {
		return missions.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	return m, nil
}

// SetActive makes id the single active mission.
func (d *Postgres) SetActive(ctx context.Context, id int64) (missions.Mission, error) {
	var out missions.Mission
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		// Activations are serialized; otherwise two of them can each clear the
		// old flag and then collide on the single-active index.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, activationLockKey); err != nil {
			return fmt.Errorf("lock activation: %w", err)
		}
		// Clear first: the partial unique index is checked row by row.
		if _, err := tx.Exec(ctx, `UPDATE missions SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, id); err != nil {
			return fmt.Errorf("deactivate missions: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE missions SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("activate mission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missions.ErrNotFound
		}

		out, err = d.getMission(ctx, tx, id)
		return err
	})
	return out, err
}

// ReplaceWaypoints swaps the mission's waypoints for positions in a single
// transaction.
func (d *Postgres) ReplaceWaypoints(ctx context.Context, id int64, positions []missions.AerialPosition) (missions.Mission, error) {
	var out missions.Mission
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		// Touching the row also locks it against concurrent replacements.
		tag, err := tx.Exec(ctx, `UPDATE missions SET updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("lock mission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missions.ErrNotFound
		}

		if err := deleteWaypoints(ctx, tx, id); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, p := range positions {
			batch.Queue(
				`WITH g AS (
                    INSERT INTO gps_positions (latitude, longitude) VALUES ($1, $2) RETURNING id
                ), a AS (
                    INSERT INTO aerial_positions (gps_position_id, altitude_msl) SELECT id, $3 FROM g RETURNING id
                )
                INSERT INTO waypoints (mission_id, position_id, sequence) SELECT $4, id, $5 FROM a`,
				p.Latitude, p.Longitude, p.AltitudeMSL, id, i+1,
			)
		}
		if batch.Len() > 0 {
			br := tx.SendBatch(ctx, batch)
			for range positions {
				if _, err := br.Exec(); err != nil {
					_ = br.Close()
					return fmt.Errorf("insert waypoint: %w", err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("insert waypoints: %w", err)
			}
		}

		out, err = d.getMission(ctx, tx, id)
		return err
	})
	return out, err
}

// deleteWaypoints removes the mission's waypoints along with the positions
// they own.
func deleteWaypoints(ctx context.Context, tx pgx.Tx, missionID int64) error {
	rows, err := tx.Query(ctx, `DELETE FROM waypoints WHERE mission_id = $1 RETURNING position_id`, missionID)
	if err != nil {
		return fmt.Errorf("delete waypoints: %w", err)
	}
	positionIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("delete waypoints: %w", err)
	}
	if len(positionIDs) == 0 {
		return nil
	}

	rows, err = tx.Query(ctx, `DELETE FROM aerial_positions WHERE id = ANY($1) RETURNING gps_position_id`, positionIDs)
	if err != nil {
		return fmt.Errorf("delete aerial positions: %w", err)
	}
	gpsIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("delete aerial positions: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM gps_positions WHERE id = ANY($1)`, gpsIDs); err != nil {
		return fmt.Errorf("delete gps positions: %w", err)
	}
	return nil
}

func (d *Postgres) getMission(ctx context.Context, q querier, id int64) (missions.Mission, error) {
	m, err := scanMission(q.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return missions.Mission{}, missions.ErrNotFound
	}
	if err != nil {
		return missions.Mission{}, fmt.Errorf("load mission: %w", err)
	}

	byMission, err := loadWaypoints(ctx, q, []int64{id})
	if err != nil {
		return missions.Mission{}, err
	}
	m.Waypoints = byMission[id]
	return m, nil
}

func (d *Postgres) queryMissions(ctx context.Context, q querier, sql string, args ...any) ([]missions.Mission, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query missions: %w", err)
	}
	defer rows.Close()

	var out []missions.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
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
	byMission, err := loadWaypoints(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Waypoints = byMission[out[i].ID]
	}
	return out, nil
}

func loadWaypoints(ctx context.Context, q querier, missionIDs []int64) (map[int64][]missions.Waypoint, error) {
	rows, err := q.Query(ctx,
		`SELECT w.mission_id, w.id, w.sequence, g.latitude, g.longitude, a.altitude_msl
         FROM waypoints w
         JOIN aerial_positions a ON a.id = w.position_id
         JOIN gps_positions g ON g.id = a.gps_position_id
         WHERE w.mission_id = ANY($1)
         ORDER BY w.mission_id, w.sequence, w.id`,
		missionIDs,
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

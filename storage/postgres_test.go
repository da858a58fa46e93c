package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suas/interop/missions"
)

// openTestPostgres connects to DATABASE_URL inside a throwaway schema. Tests
// are skipped when no database is configured.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, databaseURL)
	require.NoError(t, err)
	schema := fmt.Sprintf("interop_test_%d", time.Now().UnixNano())
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		_ = admin.Close(context.Background())
	})

	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}
	db, err := OpenPostgres(ctx, databaseURL+sep+"search_path="+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func countPostgresRows(t *testing.T, db *Postgres, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestPostgresEnsureSchemaIdempotent(t *testing.T) {
	db := openTestPostgres(t)
	require.NoError(t, db.EnsureSchema(context.Background()))
}

func TestPostgresReplaceWaypointsRemovesOldPositions(t *testing.T) {
	ctx := context.Background()
	db := openTestPostgres(t)

	m, err := db.CreateMission(ctx, missions.NewMission{Name: "finals"})
	require.NoError(t, err)

	first, err := db.ReplaceWaypoints(ctx, m.ID, positions(
		[3]float64{38.1, -76.1, 100},
		[3]float64{38.2, -76.2, 200},
		[3]float64{38.3, -76.3, 300},
	))
	require.NoError(t, err)
	require.Len(t, first.Waypoints, 3)

	second, err := db.ReplaceWaypoints(ctx, m.ID, positions(
		[3]float64{40, -70, 50},
		[3]float64{41, -71, 60},
	))
	require.NoError(t, err)
	require.Len(t, second.Waypoints, 2)
	for i, wp := range second.Waypoints {
		assert.Equal(t, i+1, wp.Order)
	}
	assert.Equal(t, 41.0, second.Waypoints[1].Position.Latitude)

	assert.Equal(t, 2, countPostgresRows(t, db, "waypoints"))
	assert.Equal(t, 2, countPostgresRows(t, db, "aerial_positions"))
	assert.Equal(t, 2, countPostgresRows(t, db, "gps_positions"))

	_, err = db.ReplaceWaypoints(ctx, m.ID+1000, positions([3]float64{1, 2, 3}))
	assert.ErrorIs(t, err, missions.ErrNotFound)
	assert.Equal(t, 2, countPostgresRows(t, db, "waypoints"))
}

func TestPostgresSetActiveSwitchesSingleActive(t *testing.T) {
	ctx := context.Background()
	db := openTestPostgres(t)

	a, err := db.CreateMission(ctx, missions.NewMission{Name: "a"})
	require.NoError(t, err)
	b, err := db.CreateMission(ctx, missions.NewMission{Name: "b"})
	require.NoError(t, err)

	_, err = db.SetActive(ctx, a.ID)
	require.NoError(t, err)
	_, err = db.SetActive(ctx, b.ID)
	require.NoError(t, err)

	active, err := db.ActiveMissions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	_, err = db.SetActive(ctx, b.ID+1000)
	assert.ErrorIs(t, err, missions.ErrNotFound)
	active, err = db.ActiveMissions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}

func TestPostgresConcurrentSetActive(t *testing.T) {
	ctx := context.Background()
	db := openTestPostgres(t)

	var ids []int64
	for i := 0; i < 8; i++ {
		m, err := db.CreateMission(ctx, missions.NewMission{Name: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	_, err := db.SetActive(ctx, ids[0])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range ids[1:] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.SetActive(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := db.ActiveMissions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

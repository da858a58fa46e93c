package missions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the referenced mission does not exist.
var ErrNotFound = errors.New("mission not found")

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AerialPosition is a GeoPoint at an altitude above mean sea level, in feet.
type AerialPosition struct {
	GeoPoint
	AltitudeMSL float64 `json:"altitude_msl"`
}

// Waypoint is one step of a mission's flight path. Order starts at 1.
type Waypoint struct {
	ID       int64          `json:"id"`
	Order    int            `json:"order"`
	Position AerialPosition `json:"position"`
}

// Mission is a competition mission configuration. Waypoints are kept sorted
// by Order.
type Mission struct {
	ID        int64
	Name      string
	Active    bool
	HomePos   GeoPoint
	Notes     string
	Waypoints []Waypoint
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMission carries the fields needed to create a mission.
type NewMission struct {
	Name    string
	HomePos GeoPoint
	Notes   string
}

// Store is the persistent collaborator holding missions and their waypoints.
type Store interface {
	ListMissions(ctx context.Context) ([]Mission, error)
	GetMission(ctx context.Context, id int64) (Mission, error)
	ActiveMissions(ctx context.Context) ([]Mission, error)
	CreateMission(ctx context.Context, m NewMission) (Mission, error)
	// SetActive marks id as the single active mission, clearing the flag on
	// every other mission in the same transaction.
	SetActive(ctx context.Context, id int64) (Mission, error)
	// ReplaceWaypoints atomically swaps the mission's waypoints for a fresh
	// sequence built from positions, ordered 1..len(positions). Rows owned by
	// the previous waypoints are removed.
	ReplaceWaypoints(ctx context.Context, id int64, positions []AerialPosition) (Mission, error)
}

// Notifier announces mission changes to other processes.
type Notifier interface {
	MissionChanged(ctx context.Context, missionID int64) error
}

type nopNotifier struct{}

func (nopNotifier) MissionChanged(context.Context, int64) error { return nil }

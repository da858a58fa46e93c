package missions

import "time"

// WaypointView is the wire form of a waypoint.
type WaypointView struct {
	Order       int     `json:"order"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	AltitudeMSL float64 `json:"altitude_msl"`
}

// View is the capability-aware projection of a Mission. Pointer fields are
// only set for privileged callers.
type View struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Active    bool           `json:"active"`
	HomePos   GeoPoint       `json:"home_pos"`
	Waypoints []WaypointView `json:"mission_waypoints"`

	Notes     *string    `json:"notes,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Project renders m for a caller, adding the privileged-only fields when
// privileged is set.
func Project(m Mission, privileged bool) View {
	v := View{
		ID:        m.ID,
		Name:      m.Name,
		Active:    m.Active,
		HomePos:   m.HomePos,
		Waypoints: make([]WaypointView, 0, len(m.Waypoints)),
	}
	for _, wp := range m.Waypoints {
		v.Waypoints = append(v.Waypoints, WaypointView{
			Order:       wp.Order,
			Latitude:    wp.Position.Latitude,
			Longitude:   wp.Position.Longitude,
			AltitudeMSL: wp.Position.AltitudeMSL,
		})
	}

	if privileged {
		notes := m.Notes
		created := m.CreatedAt
		updated := m.UpdatedAt
		v.Notes = &notes
		v.CreatedAt = &created
		v.UpdatedAt = &updated
	}
	return v
}

// ProjectAll renders every mission with the same capability.
func ProjectAll(ms []Mission, privileged bool) []View {
	out := make([]View, 0, len(ms))
	for _, m := range ms {
		out = append(out, Project(m, privileged))
	}
	return out
}

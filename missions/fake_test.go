package missions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store that counts calls.
type memStore struct {
	mu       sync.Mutex
	missions map[int64]Mission
	nextID   int64
	nextWpID int64

	activeCalls  int
	getCalls     int
	replaceCalls int
	failWith     error
}

func newMemStore(ms ...Mission) *memStore {
	s := &memStore{missions: make(map[int64]Mission)}
	for _, m := range ms {
		s.missions[m.ID] = m
		if m.ID > s.nextID {
			s.nextID = m.ID
		}
	}
	return s
}

func (s *memStore) sorted() []Mission {
	out := make([]Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListMissions(context.Context) ([]Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.sorted(), nil
}

func (s *memStore) GetMission(_ context.Context, id int64) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.failWith != nil {
		return Mission{}, s.failWith
	}
	m, ok := s.missions[id]
	if !ok {
		return Mission{}, ErrNotFound
	}
	return m, nil
}

func (s *memStore) ActiveMissions(context.Context) ([]Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCalls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []Mission
	for _, m := range s.sorted() {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) CreateMission(_ context.Context, nm NewMission) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now().UTC()
	m := Mission{ID: s.nextID, Name: nm.Name, HomePos: nm.HomePos, Notes: nm.Notes, CreatedAt: now, UpdatedAt: now}
	s.missions[m.ID] = m
	return m, nil
}

func (s *memStore) SetActive(_ context.Context, id int64) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[id]; !ok {
		return Mission{}, ErrNotFound
	}
	for k, m := range s.missions {
		m.Active = k == id
		s.missions[k] = m
	}
	return s.missions[id], nil
}

func (s *memStore) ReplaceWaypoints(_ context.Context, id int64, positions []AerialPosition) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	if s.failWith != nil {
		return Mission{}, s.failWith
	}
	m, ok := s.missions[id]
	if !ok {
		return Mission{}, ErrNotFound
	}
	wps := make([]Waypoint, 0, len(positions))
	for i, p := range positions {
		s.nextWpID++
		wps = append(wps, Waypoint{ID: s.nextWpID, Order: i + 1, Position: p})
	}
	m.Waypoints = wps
	m.UpdatedAt = time.Now().UTC()
	s.missions[id] = m
	return m, nil
}

// mapCache is a Cache backed by a plain map.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]Mission
	adds    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]Mission)}
}

func (c *mapCache) Get(key string) (Mission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	return m, ok
}

func (c *mapCache) Add(key string, value Mission) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds++
	c.entries[key] = value
	return false
}

func (c *mapCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

type recordingNotifier struct {
	mu      sync.Mutex
	changed []int64
	err     error
}

func (n *recordingNotifier) MissionChanged(_ context.Context, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, id)
	return n.err
}

var errBoom = errors.New("boom")

package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ActiveMissionKey is the cache key holding the active mission snapshot.
const ActiveMissionKey = "/MissionConfig/active_mission"

// Cache is a process-wide key/value cache of mission snapshots.
// *expirable.LRU[string, Mission] satisfies it.
type Cache interface {
	Get(key string) (Mission, bool)
	Add(key string, value Mission) bool
	Remove(key string) bool
}

// NewCache builds the LRU backing the active mission cache. A ttl of zero
// keeps entries until they are evicted or invalidated.
func NewCache(size int, ttl time.Duration) *expirable.LRU[string, Mission] {
	if size <= 0 {
		size = 1
	}
	return expirable.NewLRU[string, Mission](size, nil, ttl)
}

// Resolver finds the mission a request refers to, falling back to the single
// active mission.
type Resolver struct {
	store  Store
	cache  Cache
	logger *slog.Logger

	group singleflight.Group
	// gen advances on every invalidation so that a load racing with a write
	// does not cache what it read before the write.
	gen atomic.Uint64
}

// NewResolver constructs a resolver over store, caching the active mission in
// cache.
func NewResolver(store Store, cache Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: cache, logger: logger}
}

// ActiveMission returns the single active mission. Exactly one mission must
// be active; any other count is an InconsistentState error and nothing is
// cached.
func (r *Resolver) ActiveMission(ctx context.Context) (Mission, error) {
	if m, ok := r.cache.Get(ActiveMissionKey); ok {
		return m, nil
	}

	v, err, _ := r.group.Do(ActiveMissionKey, func() (any, error) {
		gen := r.gen.Load()
		if m, ok := r.cache.Get(ActiveMissionKey); ok {
			return m, nil
		}

		active, err := r.store.ActiveMissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("query active missions: %w", err)
		}
		if len(active) != 1 {
			r.logger.Warn("Invalid number of active missions",
				slog.Int("count", len(active)),
				slog.Any("missions", missionIDs(active)))
			return nil, errInconsistentActive()
		}

		if r.gen.Load() == gen {
			r.cache.Add(ActiveMissionKey, active[0])
		}
		return active[0], nil
	})
	if err != nil {
		return Mission{}, err
	}
	return v.(Mission), nil
}

// ResolveMission returns the mission named by the "mission" parameter, or the
// active mission when the parameter is absent. When the parameter repeats, the
// last value wins.
func (r *Resolver) ResolveMission(ctx context.Context, params url.Values) (Mission, error) {
	values := params["mission"]
	if len(values) == 0 {
		return r.ActiveMission(ctx)
	}

	raw := values[len(values)-1]
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		r.logger.Warn("Invalid mission ID given", slog.String("id", raw))
		return Mission{}, errMalformed(msgMissionIDNotInt)
	}

	m, err := r.store.GetMission(ctx, id)
	if errors.Is(err, ErrNotFound) {
		r.logger.Warn("Given mission ID not found", slog.Int64("id", id))
		return Mission{}, errResolveNotFound()
	}
	if err != nil {
		return Mission{}, fmt.Errorf("get mission %d: %w", id, err)
	}
	return m, nil
}

// InvalidateActive drops the cached active mission.
func (r *Resolver) InvalidateActive() {
	r.gen.Add(1)
	r.cache.Remove(ActiveMissionKey)
}

func missionIDs(ms []Mission) []int64 {
	ids := make([]int64, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

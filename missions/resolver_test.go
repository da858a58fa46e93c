package missions

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suas/interop/log"
)

func newTestResolver(store Store, cache Cache) *Resolver {
	return NewResolver(store, cache, log.Discard())
}

func requireRequestError(t *testing.T, err error, kind Kind, status int, message string) {
	t.Helper()
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, kind, reqErr.Kind)
	assert.Equal(t, status, reqErr.Status)
	assert.Equal(t, message, reqErr.Message)
}

func TestActiveMissionPopulatesCacheOnce(t *testing.T) {
	store := newMemStore(
		Mission{ID: 1, Name: "practice"},
		Mission{ID: 2, Name: "finals", Active: true},
	)
	cache := newMapCache()
	r := newTestResolver(store, cache)

	first, err := r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, 1, store.activeCalls)

	cached, ok := cache.Get(ActiveMissionKey)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	second, err := r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.activeCalls, "cache hit must not query the store")
}

func TestActiveMissionInconsistentCount(t *testing.T) {
	tests := []struct {
		name     string
		missions []Mission
	}{
		{name: "none active", missions: []Mission{{ID: 1}, {ID: 2}}},
		{name: "two active", missions: []Mission{{ID: 1, Active: true}, {ID: 2, Active: true}}},
		{name: "empty store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(tt.missions...)
			cache := newMapCache()
			r := newTestResolver(store, cache)

			_, err := r.ActiveMission(context.Background())
			requireRequestError(t, err, InconsistentState, http.StatusInternalServerError, "Invalid number of active missions.")
			assert.Equal(t, 0, cache.adds)

			_, ok := cache.Get(ActiveMissionKey)
			assert.False(t, ok)
		})
	}
}

func TestActiveMissionStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failWith = errBoom
	r := newTestResolver(store, newMapCache())

	_, err := r.ActiveMission(context.Background())
	require.ErrorIs(t, err, errBoom)

	var reqErr *RequestError
	assert.False(t, errors.As(err, &reqErr))
}

// blockingStore holds ActiveMissions open until release is closed.
type blockingStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore(ms ...Mission) *blockingStore {
	return &blockingStore{
		memStore: newMemStore(ms...),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
}

func (s *blockingStore) ActiveMissions(ctx context.Context) ([]Mission, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.memStore.ActiveMissions(ctx)
}

func TestActiveMissionConcurrentMissesShareLoad(t *testing.T) {
	store := newBlockingStore(Mission{ID: 7, Active: true})
	cache := newMapCache()
	r := newTestResolver(store, cache)

	const callers = 16
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			m, err := r.ActiveMission(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, int64(7), m.ID)
		}()
	}

	started.Wait()
	<-store.entered
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	done.Wait()

	assert.Equal(t, 1, store.activeCalls)
	assert.Equal(t, 1, cache.adds)
}

func TestActiveMissionLoadRacingInvalidationIsNotCached(t *testing.T) {
	store := newBlockingStore(Mission{ID: 1, Active: true})
	cache := newMapCache()
	r := newTestResolver(store, cache)

	result := make(chan Mission, 1)
	go func() {
		m, err := r.ActiveMission(context.Background())
		assert.NoError(t, err)
		result <- m
	}()

	<-store.entered
	r.InvalidateActive()
	close(store.release)

	m := <-result
	assert.Equal(t, int64(1), m.ID, "the caller still gets what it loaded")
	assert.Equal(t, 0, cache.adds)
	_, ok := cache.Get(ActiveMissionKey)
	assert.False(t, ok)

	_, err := r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.activeCalls)
	assert.Equal(t, 1, cache.adds)
}

func TestInvalidateActiveForcesReload(t *testing.T) {
	store := newMemStore(Mission{ID: 1, Active: true}, Mission{ID: 2})
	r := newTestResolver(store, newMapCache())

	m, err := r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)

	_, err = store.SetActive(context.Background(), 2)
	require.NoError(t, err)

	m, err = r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID, "stale until invalidated")

	r.InvalidateActive()
	m, err = r.ActiveMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.ID)
	assert.Equal(t, 2, store.activeCalls)
}

func TestResolveMissionByID(t *testing.T) {
	store := newMemStore(Mission{ID: 1, Active: true}, Mission{ID: 5, Name: "qualifier"})
	r := newTestResolver(store, newMapCache())

	m, err := r.ResolveMission(context.Background(), url.Values{"mission": {"5"}})
	require.NoError(t, err)
	assert.Equal(t, "qualifier", m.Name)
	assert.Equal(t, 0, store.activeCalls)
}

func TestResolveMissionRepeatedParameterUsesLast(t *testing.T) {
	store := newMemStore(Mission{ID: 1, Name: "first"}, Mission{ID: 2, Name: "second"})
	r := newTestResolver(store, newMapCache())

	m, err := r.ResolveMission(context.Background(), url.Values{"mission": {"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.ID)

	_, err = r.ResolveMission(context.Background(), url.Values{"mission": {"2", "x"}})
	requireRequestError(t, err, MalformedRequest, http.StatusBadRequest, "Mission ID is not an integer.")
}

func TestResolveMissionNotInteger(t *testing.T) {
	for _, raw := range []string{"abc", "1.5", "", "0x10"} {
		t.Run(raw, func(t *testing.T) {
			store := newMemStore(Mission{ID: 1, Active: true})
			r := newTestResolver(store, newMapCache())

			_, err := r.ResolveMission(context.Background(), url.Values{"mission": {raw}})
			requireRequestError(t, err, MalformedRequest, http.StatusBadRequest, "Mission ID is not an integer.")
			assert.Equal(t, 0, store.getCalls)
			assert.Equal(t, 0, store.activeCalls)
		})
	}
}

func TestResolveMissionUnknownID(t *testing.T) {
	store := newMemStore(Mission{ID: 1, Active: true})
	r := newTestResolver(store, newMapCache())

	_, err := r.ResolveMission(context.Background(), url.Values{"mission": {"42"}})
	requireRequestError(t, err, NotFound, http.StatusBadRequest, "Mission not found.")
}

func TestResolveMissionFallsBackToActive(t *testing.T) {
	store := newMemStore(Mission{ID: 3, Active: true})
	r := newTestResolver(store, newMapCache())

	m, err := r.ResolveMission(context.Background(), url.Values{"other": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.ID)

	empty := newTestResolver(newMemStore(), newMapCache())
	_, err = empty.ResolveMission(context.Background(), nil)
	requireRequestError(t, err, InconsistentState, http.StatusInternalServerError, "Invalid number of active missions.")
}

func TestNewCacheSatisfiesCache(t *testing.T) {
	var c Cache = NewCache(4, 0)
	c.Add(ActiveMissionKey, Mission{ID: 9})

	m, ok := c.Get(ActiveMissionKey)
	require.True(t, ok)
	assert.Equal(t, int64(9), m.ID)

	assert.True(t, c.Remove(ActiveMissionKey))
	_, ok = c.Get(ActiveMissionKey)
	assert.False(t, ok)
}

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/avoskin/bookgate/internal/repository/memory"
	"github.com/avoskin/bookgate/internal/service/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*catalog.Service, *memory.Store) {
	store := memory.NewStore()
	return catalog.New(store, nil, catalog.Config{}), store
}

func TestCreateEvent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, "concert", "arena", time.Now().Add(24*time.Hour), 100)
	require.NoError(t, err)
	assert.Positive(t, id)

	e, err := svc.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "concert", e.Name)
	assert.Equal(t, "arena", e.Venue)
	assert.Equal(t, int64(100), e.Capacity)
	assert.Equal(t, int64(0), e.Booked)
}

func TestCreateEvent_InvalidCapacity(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, "concert", "arena", time.Now(), 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidCapacity)

	_, err = svc.CreateEvent(ctx, "concert", "arena", time.Now(), -5)
	assert.ErrorIs(t, err, catalog.ErrInvalidCapacity)
}

func TestGetEvent_NotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.GetEvent(context.Background(), 999)
	assert.ErrorIs(t, err, catalog.ErrEventNotFound)
}

func TestAvailability(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, "concert", "arena", time.Now().Add(24*time.Hour), 3)
	require.NoError(t, err)

	av, err := svc.Availability(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), av.Capacity)
	assert.Equal(t, int64(0), av.Booked)
	assert.Equal(t, int64(3), av.Available)

	_, err = store.Admit(ctx, id, 1)
	require.NoError(t, err)
	_, err = store.Admit(ctx, id, 2)
	require.NoError(t, err)

	av, err = svc.Availability(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), av.Booked)
	assert.Equal(t, int64(1), av.Available)
}

func TestAvailability_NotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Availability(context.Background(), 999)
	assert.ErrorIs(t, err, catalog.ErrEventNotFound)
}

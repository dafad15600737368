package batterystatus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/swapstation/internal/model"
)

type stubStore struct {
	calls [][2]model.BatteryStatus
	err   error
}

func (s *stubStore) CompareAndSetBatteryStatus(ctx context.Context, id string, from, to model.BatteryStatus) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, [2]model.BatteryStatus{from, to})
	return nil
}

func TestTableCoversEveryStatus(t *testing.T) {
	for _, s := range model.BatteryStatuses {
		_, ok := allowedTransitions[s]
		assert.True(t, ok, "status %s has no entry", s)
	}
	assert.Len(t, allowedTransitions, len(model.BatteryStatuses))
}

func TestCanTransition_AllPairs(t *testing.T) {
	want := map[model.BatteryStatus]map[model.BatteryStatus]bool{
		model.BatteryStatusAvailable: {model.BatteryStatusInUse: true, model.BatteryStatusInTransit: true, model.BatteryStatusFaulty: true, model.BatteryStatusReserved: true},
		model.BatteryStatusInUse:     {model.BatteryStatusInCharged: true, model.BatteryStatusFaulty: true},
		model.BatteryStatusInCharged: {model.BatteryStatusAvailable: true, model.BatteryStatusFaulty: true},
		model.BatteryStatusInTransit: {model.BatteryStatusAvailable: true, model.BatteryStatusFaulty: true},
		model.BatteryStatusFaulty:    {model.BatteryStatusAvailable: true},
		model.BatteryStatusReserved:  {model.BatteryStatusAvailable: true, model.BatteryStatusInUse: true, model.BatteryStatusFaulty: true},
	}

	for _, from := range model.BatteryStatuses {
		for _, to := range model.BatteryStatuses {
			assert.Equal(t, want[from][to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestGuardTransition(t *testing.T) {
	store := &stubStore{}
	g := NewGuard(store, nil)

	b := &model.Battery{ID: "b1", Status: model.BatteryStatusFaulty}

	_, err := g.Transition(context.Background(), b, model.BatteryStatusInUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, model.BatteryStatusFaulty, b.Status)
	assert.Empty(t, store.calls)

	got, err := g.Transition(context.Background(), b, model.BatteryStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, model.BatteryStatusAvailable, got.Status)
	assert.Equal(t, model.BatteryStatusFaulty, b.Status, "input must not be mutated")
	assert.Equal(t, [][2]model.BatteryStatus{{model.BatteryStatusFaulty, model.BatteryStatusAvailable}}, store.calls)
}

func TestGuardTransition_SameStatusRejected(t *testing.T) {
	g := NewGuard(&stubStore{}, nil)
	for _, s := range model.BatteryStatuses {
		_, err := g.Transition(context.Background(), &model.Battery{ID: "b", Status: s}, s)
		assert.ErrorIs(t, err, ErrInvalidTransition, s)
	}
}

func TestGuardTransition_StoreErrorKeepsStatus(t *testing.T) {
	storeErr := errors.New("stale")
	g := NewGuard(&stubStore{err: storeErr}, nil)

	b := &model.Battery{ID: "b1", Status: model.BatteryStatusAvailable}
	got, err := g.Transition(context.Background(), b, model.BatteryStatusReserved)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, model.BatteryStatusAvailable, got.Status)
}

func TestOptionsIncludeCurrent(t *testing.T) {
	opts := Options(model.BatteryStatusFaulty)
	assert.Equal(t, []model.BatteryStatus{model.BatteryStatusFaulty, model.BatteryStatusAvailable}, opts)

	opts[1] = model.BatteryStatusInUse
	assert.True(t, CanTransition(model.BatteryStatusFaulty, model.BatteryStatusAvailable), "table must not be aliased")
}

func TestPathTo(t *testing.T) {
	assert.Equal(t, []model.BatteryStatus{model.BatteryStatusInCharged, model.BatteryStatusAvailable},
		PathTo(model.BatteryStatusInUse, model.BatteryStatusAvailable))
	assert.Equal(t, []model.BatteryStatus{model.BatteryStatusAvailable},
		PathTo(model.BatteryStatusReserved, model.BatteryStatusAvailable))
	assert.Empty(t, PathTo(model.BatteryStatusAvailable, model.BatteryStatusAvailable))
	assert.Nil(t, PathTo(model.BatteryStatusAvailable, "unknown"))
}

func TestRelease(t *testing.T) {
	store := &stubStore{}
	g := NewGuard(store, nil)

	got, err := g.Release(context.Background(), &model.Battery{ID: "b1", Status: model.BatteryStatusInUse})
	require.NoError(t, err)
	assert.Equal(t, model.BatteryStatusAvailable, got.Status)
	assert.Len(t, store.calls, 2)

	_, err = g.Release(context.Background(), &model.Battery{ID: "b2", Status: "melted"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

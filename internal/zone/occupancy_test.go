package zone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccupancySetReportsChange(t *testing.T) {
	o := NewOccupancy([]string{"hall"}, []string{"desk"})

	changed, err := o.Set(GroupNormal, "hall", true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = o.Set(GroupNormal, "hall", true)
	require.NoError(t, err)
	assert.False(t, changed, "repeating a value is not a change")

	assert.True(t, o.Aggregate(GroupNormal))
	assert.False(t, o.Aggregate(GroupFullBrightness))
	assert.True(t, o.Any())
}

func TestOccupancyFallsBackToOtherGroup(t *testing.T) {
	o := NewOccupancy([]string{"hall"}, []string{"desk"})

	changed, err := o.Set(GroupNormal, "desk", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, o.Aggregate(GroupFullBrightness))
	assert.False(t, o.Aggregate(GroupNormal))
}

func TestOccupancyUnknownSensor(t *testing.T) {
	o := NewOccupancy([]string{"hall"}, nil)

	_, err := o.Set(GroupNormal, "garage", true)
	assert.True(t, errors.Is(err, ErrUnknownSensor))
	assert.False(t, o.Any())

	_, ok := o.GroupOf("garage")
	assert.False(t, ok)
}

func TestOccupancyEmptyGroupsAreFalse(t *testing.T) {
	o := NewOccupancy(nil, nil)
	assert.False(t, o.Aggregate(GroupNormal))
	assert.False(t, o.Aggregate(GroupFullBrightness))
	assert.Empty(t, o.Snapshot(GroupNormal))
}

func TestOccupancyAggregateIsOr(t *testing.T) {
	o := NewOccupancy([]string{"a", "b"}, nil)
	_, _ = o.Set(GroupNormal, "a", true)
	_, _ = o.Set(GroupNormal, "b", true)
	_, _ = o.Set(GroupNormal, "a", false)
	assert.True(t, o.Aggregate(GroupNormal))

	_, _ = o.Set(GroupNormal, "b", false)
	assert.False(t, o.Aggregate(GroupNormal))
	assert.Equal(t, map[string]bool{"a": false, "b": false}, o.Snapshot(GroupNormal))
}

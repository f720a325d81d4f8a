package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

func TestAdd_StepsFromLastPercentage(t *testing.T) {
	t.Parallel()

	var l []domain.TakeProfitTarget
	var err error
	for i := 0; i < MaxTargets; i++ {
		l, err = Add(l, domain.TradeLong, 200)
		require.NoError(t, err)
	}
	require.Len(t, l, 3)
	assert.Equal(t, []float64{220, 240, 260}, prices(l))
	assert.Equal(t, 30.0, l[2].Percentage)
	assert.NotEqual(t, l[0].ID, l[1].ID)

	_, err = Add(l, domain.TradeLong, 200)
	assert.ErrorIs(t, err, ErrLadderFull)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestAdd_Short(t *testing.T) {
	t.Parallel()

	l, err := Add(nil, domain.TradeShort, 50)
	require.NoError(t, err)
	assert.Equal(t, 45.0, l[0].Price)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	l := ladder(110, 120)
	out, err := Remove(l, "a")
	require.NoError(t, err)
	assert.Equal(t, []float64{120}, prices(out))

	_, err = Remove(out, "b")
	assert.ErrorIs(t, err, ErrLastTarget)

	_, err = Remove(l, "zz")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetPriceAndPercentageStayConsistent(t *testing.T) {
	t.Parallel()

	l := ladder(110, 120)
	out, err := SetPrice(l, "b", 125, domain.TradeLong, 100)
	require.NoError(t, err)
	assert.Equal(t, 25.0, out[1].Percentage)
	assert.Equal(t, 120.0, l[1].Price, "input untouched")

	out, err = SetPercentage(out, "a", 15, domain.TradeShort, 100)
	require.NoError(t, err)
	assert.Equal(t, 85.0, out[0].Price)

	_, err = SetPrice(l, "a", -1, domain.TradeLong, 100)
	assert.ErrorIs(t, err, ErrInvalidTargetPx)

	_, err = SetPercentage(l, "a", 100, domain.TradeShort, 100)
	assert.ErrorIs(t, err, ErrInvalidTargetPx)

	_, err = SetPercentage(l, "zz", 5, domain.TradeLong, 100)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	out := Sanitize([]domain.TakeProfitTarget{{Price: 0}, {Price: 12}, {ID: "x", Price: -3}})
	require.Len(t, out, 1)
	assert.Equal(t, 12.0, out[0].Price)
	assert.NotEmpty(t, out[0].ID)
}

func TestPlan(t *testing.T) {
	t.Parallel()

	s := Plan(ladder(110, 112), domain.TradeLong, 100, 95, 10)
	assert.True(t, s.Corrected)
	assert.Equal(t, 2.0, s.RiskReward)
	require.Len(t, s.TargetROE, 2)
	assert.InDelta(t, 100.0, s.TargetROE[0], 1e-9)
}

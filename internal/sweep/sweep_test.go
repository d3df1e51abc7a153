package sweep_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal/mercury"
	"codeberg.org/teralab/teractl/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoints(t *testing.T) {
	cfg, err := sweep.NewConfig(sweep.NewCount(), 0, 9, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, cfg.Points())
	assert.Equal(t, 10, cfg.NPoints())
}

func TestPointsFinalBoundary(t *testing.T) {
	cfg, err := sweep.NewConfig(sweep.NewCount(), 0, 1, 0.3, 0)
	require.NoError(t, err)

	points := cfg.Points()
	require.Len(t, points, 4)
	assert.InDelta(t, 0.9, points[3], 1e-12)
}

func TestPointsDescending(t *testing.T) {
	cfg, err := sweep.NewConfig(sweep.NewCount(), 2, 0, -0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1.5, 1, 0.5, 0}, cfg.Points())

	single, err := sweep.NewConfig(sweep.NewCount(), 1, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, single.Points())
}

func TestNewConfigRejects(t *testing.T) {
	tests := []struct {
		name  string
		axis  sweep.Axis
		start float64
		stop  float64
		step  float64
		dwell time.Duration
		code  errors.ErrorCode
	}{
		{"zero step", sweep.NewCount(), 0, 1, 0, 0, sweep.ErrZeroStep},
		{"wrong sign", sweep.NewCount(), 0, 1, -0.5, 0, sweep.ErrStepDirection},
		{"equal bounds with negative step", sweep.NewCount(), 1, 1, -0.5, 0, sweep.ErrStepDirection},
		{"no axis", nil, 0, 1, 1, 0, sweep.ErrNoAxis},
		{"negative dwell", sweep.NewCount(), 0, 1, 1, -time.Second, sweep.ErrNegativeDwell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sweep.NewConfig(tt.axis, tt.start, tt.stop, tt.step, tt.dwell)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestDescribe(t *testing.T) {
	cfg, err := sweep.NewConfig(sweep.NewCount(), 1, 3, 1, 1500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"axis":    "count",
		"start":   1.0,
		"stop":    3.0,
		"step":    1.0,
		"unit":    "#",
		"dwell_s": 1.5,
		"npoints": 3,
	}, cfg.Describe())
}

func TestCountAxis(t *testing.T) {
	c := sweep.NewCount()

	_, err := c.Read()
	assert.True(t, errors.HasCode(err, sweep.ErrNotPositioned))

	require.NoError(t, c.Goto(2.7))
	v, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	ready, err := c.IsReady()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.False(t, c.Blocking())
	assert.Zero(t, c.EstimateSettle(100))
	assert.NoError(t, c.Shutdown())
	assert.Equal(t, "count", c.Describe(3)["axis"])
	assert.Equal(t, 3.0, c.Describe(3)["value"])
}

type fakeSupply struct {
	mu      sync.Mutex
	field   float64
	target  float64
	rate    float64
	rateErr error
	action  string
	calls   []string
}

func (f *fakeSupply) FirstOfKind(kind mercury.Kind) (mercury.Device, bool) {
	if kind == mercury.KindPSU {
		return mercury.Device{Name: "Magnet", Kind: kind}, true
	}
	return mercury.Device{}, false
}

func (f *fakeSupply) call(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeSupply) SetTargetField(_ string, v float64) error {
	f.call("SetTargetField")
	f.target = v
	return nil
}

func (f *fakeSupply) SetCurrentRate(string, float64) error { return nil }
func (f *fakeSupply) SetFieldRate(string, float64) error   { return nil }

func (f *fakeSupply) GotoSet(string) error {
	f.call("GotoSet")
	f.action = mercury.ActionRampToSet
	return nil
}

func (f *fakeSupply) GotoZero(string) error { return nil }

func (f *fakeSupply) Hold(string) error {
	f.call("Hold")
	f.action = mercury.ActionHold
	return nil
}

func (f *fakeSupply) ReadField(string) (float64, error)       { return f.field, nil }
func (f *fakeSupply) ReadFieldRate(string) (float64, error)   { return f.rate, f.rateErr }
func (f *fakeSupply) ReadCurrentRate(string) (float64, error) { return 0, nil }

func (f *fakeSupply) ReadAction(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action, nil
}

func (f *fakeSupply) setAction(a string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.action = a
}

func TestFieldAxisEstimateSettle(t *testing.T) {
	supply := &fakeSupply{field: 0, rate: 0.5, action: mercury.ActionHold}
	settings := sweep.FieldSettings{
		SafetyMargin:  1.3,
		Stabilization: 15 * time.Second,
		SettleSlack:   10 * time.Second,
		MaxSettle:     time.Hour,
	}
	axis, err := sweep.NewField(engine.NewField(supply, ""), settings)
	require.NoError(t, err)

	require.NoError(t, axis.Goto(1))
	assert.Equal(t, []string{"SetTargetField", "GotoSet"}, supply.calls)
	assert.Equal(t, 1.0, supply.target)
	assert.True(t, axis.Blocking())

	// 1 T at 0.5 T/min is 120 s; plus 15 s, times 1.3 is 175.5 s, plus 10 s.
	assert.InDelta(t, 185.5, axis.EstimateSettle(1).Seconds(), 1e-6)

	supply.rate = 0
	assert.Equal(t, time.Hour, axis.EstimateSettle(1))

	supply.rate = 0.5
	supply.rateErr = errors.New().New(errors.ErrTimeout)
	assert.Equal(t, time.Hour, axis.EstimateSettle(1))
}

func TestFieldAxisEstimateWithoutRamp(t *testing.T) {
	supply := &fakeSupply{field: 2, rate: 0.5, action: mercury.ActionHold}
	settings := sweep.FieldSettings{
		SafetyMargin:  1.3,
		Stabilization: 300 * time.Millisecond,
		SettleSlack:   time.Second,
		MaxSettle:     time.Hour,
	}
	axis, err := sweep.NewField(engine.NewField(supply, ""), settings)
	require.NoError(t, err)
	require.NoError(t, axis.Goto(2))

	estimate := axis.EstimateSettle(2)
	assert.Greater(t, estimate, settings.Stabilization+settings.SettleSlack,
		"a step at the present field keeps margin and slack above the hold time")
	assert.InDelta(t, 1.39, estimate.Seconds(), 1e-6)
}

func TestFieldAxisIsReadyNeedsSustainedHold(t *testing.T) {
	supply := &fakeSupply{rate: 1, action: mercury.ActionHold}
	settings := sweep.FieldSettings{SafetyMargin: 1, Stabilization: 30 * time.Millisecond, MaxSettle: time.Minute}
	axis, err := sweep.NewField(engine.NewField(supply, ""), settings)
	require.NoError(t, err)

	require.NoError(t, axis.Goto(0.5))

	ready, err := axis.IsReady()
	require.NoError(t, err)
	assert.False(t, ready, "ramping")

	supply.setAction(mercury.ActionHold)
	ready, err = axis.IsReady()
	require.NoError(t, err)
	assert.False(t, ready, "hold not yet sustained")

	require.Eventually(t, func() bool {
		ok, err := axis.IsReady()
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)

	supply.setAction(mercury.ActionRampToSet)
	ready, err = axis.IsReady()
	require.NoError(t, err)
	assert.False(t, ready, "leaving hold resets the timer")
}

func TestFieldAxisShutdownHoldsOnce(t *testing.T) {
	supply := &fakeSupply{action: mercury.ActionRampToSet}
	axis, err := sweep.NewField(engine.NewField(supply, ""), sweep.DefaultFieldSettings())
	require.NoError(t, err)

	require.NoError(t, axis.Shutdown())
	require.NoError(t, axis.Shutdown())
	assert.Equal(t, []string{"Hold"}, supply.calls)
}

func TestFieldSettingsValidated(t *testing.T) {
	tests := []struct {
		name     string
		settings sweep.FieldSettings
	}{
		{"margin below one", sweep.FieldSettings{SafetyMargin: 0.5, MaxSettle: time.Minute}},
		{"negative slack", sweep.FieldSettings{SafetyMargin: 1, SettleSlack: -time.Second, MaxSettle: time.Minute}},
		{"no max settle", sweep.FieldSettings{SafetyMargin: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sweep.NewField(engine.NewField(&fakeSupply{}, ""), tt.settings)
			assert.True(t, errors.HasCode(err, sweep.ErrInvalidSetting))
		})
	}
}

func TestCatalogue(t *testing.T) {
	assert.Equal(t, []string{"count", "field", "temperature"}, sweep.Names())

	axis, err := sweep.NewAxis("count", sweep.Engines{})
	require.NoError(t, err)
	assert.Equal(t, "count", axis.Name())

	_, err = sweep.NewAxis("pressure", sweep.Engines{})
	assert.True(t, errors.HasCode(err, sweep.ErrUnknownAxis))

	_, err = sweep.NewAxis("field", sweep.Engines{})
	assert.True(t, errors.HasCode(err, sweep.ErrMissingEngine))

	field, err := sweep.NewAxis("field", sweep.Engines{
		Field:    engine.NewField(&fakeSupply{}, ""),
		Settings: sweep.DefaultFieldSettings(),
	})
	require.NoError(t, err)
	assert.True(t, field.Blocking())

	d, ok := sweep.DefaultsFor("count")
	require.True(t, ok)
	assert.Equal(t, sweep.Defaults{Start: 0, Stop: 9, Step: 1, Dwell: time.Second}, d)

	_, ok = sweep.DefaultsFor("field")
	assert.False(t, ok)
}

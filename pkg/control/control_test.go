package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMutator struct {
	mock.Mock
}

func (m *mockMutator) ChangeDeviceSuspension(ctx context.Context, deviceID, action string) (string, error) {
	args := m.Called(ctx, deviceID, action)
	return args.String(0), args.Error(1)
}

func (m *mockMutator) UpdateBoostCharge(ctx context.Context, deviceID, action string) (string, error) {
	args := m.Called(ctx, deviceID, action)
	return args.String(0), args.Error(1)
}

func (m *mockMutator) SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage int, targetTime string) error {
	args := m.Called(ctx, deviceID, targetPercentage, targetTime)
	return args.Error(0)
}

type countingRefresher struct {
	calls int
}

func (r *countingRefresher) RequestRefresh() { r.calls++ }

func testSnapshot() *types.Snapshot {
	now := time.Now()
	return &types.Snapshot{
		FetchedAt: now,
		Accounts: map[string]*types.AccountData{
			"A-1": {
				AccountNumber: "A-1",
				UpdatedAt:     now,
				Devices: []types.Device{{
					ID:   "DEV-1",
					Name: "Car",
					Preferences: &types.Preferences{
						Schedules: []types.Schedule{{DayOfWeek: "MONDAY", Time: "07:30:00", Max: types.NewNumber(80)}},
					},
				}},
			},
		},
	}
}

func setup(t *testing.T) (*Controller, *entity.Registry, *mockMutator, *countingRefresher) {
	t.Helper()
	reg := entity.NewRegistry(time.Minute)
	reg.AddEntry("entry-1", nil)
	reg.UpdateEntry("entry-1", testSnapshot(), true)

	m := &mockMutator{}
	r := &countingRefresher{}
	c := New(reg, func(entryID string) (Target, bool) {
		if entryID != "entry-1" {
			return Target{}, false
		}
		return Target{Client: m, Coordinator: r}, true
	})
	return c, reg, m, r
}

func TestSetSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("smart control off", func(t *testing.T) {
		c, reg, m, r := setup(t)
		id := "octopus_A-1_dev-1_smart_control"
		m.On("ChangeDeviceSuspension", ctx, "DEV-1", types.SmartControlSuspend).Return("DEV-1", nil).Once()

		require.NoError(t, c.SetSwitch(ctx, id, false))
		m.AssertExpectations(t)
		assert.Equal(t, 1, r.calls)

		ent, ok := reg.Get(id)
		require.True(t, ok)
		assert.True(t, ent.Pending)
		assert.Equal(t, false, ent.State)
	})

	t.Run("boost on", func(t *testing.T) {
		c, _, m, r := setup(t)
		m.On("UpdateBoostCharge", ctx, "DEV-1", types.BoostChargeBoost).Return("DEV-1", nil).Once()

		require.NoError(t, c.SetSwitch(ctx, "octopus_A-1_dev-1_boost_charge", true))
		m.AssertExpectations(t)
		assert.Equal(t, 1, r.calls)
	})

	t.Run("failure clears pending", func(t *testing.T) {
		c, reg, m, r := setup(t)
		id := "octopus_A-1_dev-1_smart_control"
		m.On("ChangeDeviceSuspension", ctx, "DEV-1", types.SmartControlSuspend).Return("", errors.New("boom")).Once()

		require.Error(t, c.SetSwitch(ctx, id, false))
		assert.Equal(t, 0, r.calls)

		ent, ok := reg.Get(id)
		require.True(t, ok)
		assert.False(t, ent.Pending)
		assert.Equal(t, true, ent.State)
	})

	t.Run("wrong platform", func(t *testing.T) {
		c, _, m, _ := setup(t)
		err := c.SetSwitch(ctx, "octopus_A-1_dev-1_charge_target", true)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		m.AssertNotCalled(t, "ChangeDeviceSuspension", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown entity", func(t *testing.T) {
		c, _, _, _ := setup(t)
		assert.ErrorIs(t, c.SetSwitch(ctx, "octopus_nope", true), entity.ErrNotFound)
	})

	t.Run("disabled entity", func(t *testing.T) {
		c, reg, _, _ := setup(t)
		id := "octopus_A-1_dev-1_boost_charge"
		_, err := reg.SetEnabled(id, false)
		require.NoError(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, c.SetSwitch(ctx, id, true), &verr)
	})
}

func TestSetNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps target time", func(t *testing.T) {
		c, reg, m, r := setup(t)
		m.On("SetDevicePreferences", ctx, "DEV-1", 90, "07:30").Return(nil).Once()

		require.NoError(t, c.SetNumber(ctx, "octopus_A-1_dev-1_charge_target", 90))
		m.AssertExpectations(t)
		assert.Equal(t, 1, r.calls)

		ent, _ := reg.Get("octopus_A-1_dev-1_charge_target")
		assert.True(t, ent.Pending)
		assert.Equal(t, float64(90), ent.State)
	})

	t.Run("rejects step", func(t *testing.T) {
		c, _, m, _ := setup(t)
		var verr *ValidationError
		assert.ErrorAs(t, c.SetNumber(ctx, "octopus_A-1_dev-1_charge_target", 83), &verr)
		m.AssertNotCalled(t, "SetDevicePreferences", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSelectOption(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		c, reg, m, _ := setup(t)
		m.On("SetDevicePreferences", ctx, "DEV-1", 80, "05:00").Return(nil).Once()

		require.NoError(t, c.SelectOption(ctx, "octopus_A-1_dev-1_target_time", "05:00"))
		m.AssertExpectations(t)

		ent, _ := reg.Get("octopus_A-1_dev-1_target_time")
		assert.Equal(t, "05:00", ent.State)
		assert.True(t, ent.Pending)
	})

	t.Run("normalised option", func(t *testing.T) {
		c, _, m, _ := setup(t)
		m.On("SetDevicePreferences", ctx, "DEV-1", 80, "16:30").Return(nil).Once()

		require.NoError(t, c.SelectOption(ctx, "octopus_A-1_dev-1_target_time", "4:30 PM"))
		m.AssertExpectations(t)
	})

	t.Run("not an option", func(t *testing.T) {
		for _, opt := range []string{"05:17", "16:45", "03:30", "17:30"} {
			c, reg, m, r := setup(t)

			err := c.SelectOption(ctx, "octopus_A-1_dev-1_target_time", opt)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr, opt)
			m.AssertNotCalled(t, "SetDevicePreferences", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Zero(t, r.calls)

			ent, _ := reg.Get("octopus_A-1_dev-1_target_time")
			assert.Equal(t, "07:30", ent.State)
			assert.False(t, ent.Pending)
		}
	})
}

func TestSetDevicePreferences(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		c, reg, m, r := setup(t)
		m.On("SetDevicePreferences", ctx, "DEV-1", 60, "16:30").Return(nil).Once()

		require.NoError(t, c.SetDevicePreferences(ctx, "dev-1", 60, "4:30 PM"))
		m.AssertExpectations(t)
		assert.Equal(t, 1, r.calls)

		num, _ := reg.Get("octopus_A-1_dev-1_charge_target")
		assert.Equal(t, float64(60), num.State)
		sel, _ := reg.Get("octopus_A-1_dev-1_target_time")
		assert.Equal(t, "16:30", sel.State)
	})

	t.Run("validation before api", func(t *testing.T) {
		c, _, m, _ := setup(t)
		var verr *ValidationError
		assert.ErrorAs(t, c.SetDevicePreferences(ctx, "DEV-1", 15, "07:00"), &verr)
		assert.ErrorAs(t, c.SetDevicePreferences(ctx, "DEV-1", 60, "18:00"), &verr)
		assert.ErrorAs(t, c.SetDevicePreferences(ctx, "", 60, "07:00"), &verr)
		m.AssertNotCalled(t, "SetDevicePreferences", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown device", func(t *testing.T) {
		c, _, _, _ := setup(t)
		assert.ErrorIs(t, c.SetDevicePreferences(ctx, "DEV-9", 60, "07:00"), entity.ErrNotFound)
	})
}

func TestValidateTargetPercentage(t *testing.T) {
	for _, v := range []float64{20, 55, 100} {
		pct, err := ValidateTargetPercentage(v)
		require.NoError(t, err)
		assert.Equal(t, int(v), pct)
	}
	for _, v := range []float64{15, 105, 52, 50.5} {
		_, err := ValidateTargetPercentage(v)
		assert.Error(t, err, "%v", v)
	}
}

func TestNormalizeTargetTime(t *testing.T) {
	valid := map[string]string{
		"04:00":      "04:00",
		"7:30":       "07:30",
		"07:30:00":   "07:30",
		"17:00":      "17:00",
		"4:30 PM":    "16:30",
		"5:00:00 am": "05:00",
		" 10:15 ":    "10:15",
		"11:00AM":    "11:00",
	}
	for in, want := range valid {
		got, err := NormalizeTargetTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"03:59", "17:01", "17:00:30", "6 PM", "noon", ""} {
		_, err := NormalizeTargetTime(in)
		assert.Error(t, err, in)
	}
}

package entity

import (
	"testing"
	"time"

	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 10, 10, 0, 0, 0, types.Rome)

func f(v float64) *float64 { return &v }

func testAccount() *types.AccountData {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, types.Rome)
	to := time.Date(2026, 1, 1, 0, 0, 0, 0, types.Rome)
	days := 205
	product := types.Product{
		Code:        "FLEX-TOU",
		Name:        "Octopus Flex Orario",
		DisplayName: "Flex Orario",
		Type:        types.ProductTypeTimeOfUse,
		IsTimeOfUse: true,
		ValidFrom:   &from,
		ValidTo:     &to,
		Pricing: types.Pricing{
			Base:                      f(0.12),
			F2:                        f(0.10),
			F3:                        f(0.08),
			Units:                     "€/kWh",
			AnnualStandingCharge:      f(96),
			AnnualStandingChargeUnits: "€/anno",
		},
	}
	return &types.AccountData{
		AccountNumber:      "A-1",
		UpdatedAt:          testNow,
		ElectricityBalance: f(123.456),
		HeatBalance:        f(0),
		OtherLedgers:       map[string]float64{"POWER_BANK_LEDGER": 10},
		Electricity: &types.Supply{
			SupplyPoint:               types.SupplyPoint{ID: "sp-e", Identifier: "IT001E1", Status: "ON_SUPPLY"},
			Products:                  []types.Product{product},
			CurrentProduct:            &product,
			Agreements:                []types.Agreement{{ID: "101", IsActive: true}, {ID: "100"}},
			Price:                     f(0.12),
			AnnualStandingCharge:      f(96),
			AnnualStandingChargeUnits: "€/anno",
			ContractStart:             &from,
			ContractEnd:               &to,
			ContractDaysUntilExpiry:   &days,
			LatestReading:             &types.MeterReading{MeterID: "sp-e", Value: f(1500)},
		},
		Devices: []types.Device{{
			ID:     "DEV-1",
			Name:   "Car",
			Status: types.DeviceStatus{CurrentState: "SMART_CONTROL_CAPABLE"},
			Preferences: &types.Preferences{
				Mode:      "CHARGE",
				Schedules: []types.Schedule{{DayOfWeek: "MONDAY", Time: "07:00:00", Max: types.NewNumber(80)}},
			},
			VehicleVariant: &types.VehicleVariant{Model: "Model 3", BatterySize: types.NewNumber(75)},
		}},
		PlannedDispatches: []types.Dispatch{
			{Start: testNow.Add(-30 * time.Minute), End: testNow.Add(time.Hour), Type: "SMART", DeviceID: "DEV-1"},
		},
		CurrentDispatch:       &types.Dispatch{Start: testNow.Add(-30 * time.Minute), End: testNow.Add(time.Hour)},
		VehicleBatterySizeKWh: f(75),
	}
}

func snapshot(a *types.AccountData) *types.Snapshot {
	return &types.Snapshot{Accounts: map[string]*types.AccountData{a.AccountNumber: a}, FetchedAt: testNow}
}

func newTestRegistry(timeout time.Duration) *Registry {
	r := NewRegistry(timeout)
	r.now = func() time.Time { return testNow }
	r.pending.now = r.now
	return r
}

func TestRegistryCreatesEntities(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)

	r.UpdateEntry("e1", nil, false)
	assert.Empty(t, r.List("e1"))

	r.UpdateEntry("e1", snapshot(testAccount()), true)
	ents := r.List("e1")
	ids := make([]string, 0, len(ents))
	for _, e := range ents {
		ids = append(ids, e.UniqueID)
	}
	for _, id := range []string{
		"octopus_A-1_electricity_price",
		"octopus_A-1_electricity_balance",
		"octopus_A-1_electricity_supply_status",
		"octopus_A-1_electricity_standing_charge",
		"octopus_A-1_electricity_contract_start",
		"octopus_A-1_electricity_contract_end",
		"octopus_A-1_electricity_contract_expiry_days",
		"octopus_A-1_electricity_product",
		"octopus_A-1_electricity_agreements",
		"octopus_A-1_electricity_meter_reading",
		"octopus_A-1_device_status",
		"octopus_A-1_device_charge_target",
		"octopus_A-1_device_target_time",
		"octopus_A-1_dispatching",
		"octopus_A-1_dev-1_smart_control",
		"octopus_A-1_dev-1_boost_charge",
		"octopus_A-1_dev-1_charge_target",
		"octopus_A-1_dev-1_target_time",
		"octopus_A-1_power_bank_ledger_balance",
		"octopus_A-1_dispatch_current_start",
		"octopus_A-1_dispatch_current_end",
		"octopus_A-1_vehicle_battery_size",
	} {
		assert.Contains(t, ids, id)
	}
	// zero heat balance, no gas, no next dispatch
	assert.NotContains(t, ids, "octopus_A-1_heat_balance")
	assert.NotContains(t, ids, "octopus_A-1_gas_pdr")
	assert.NotContains(t, ids, "octopus_A-1_dispatch_next_start")

	// a later snapshot with more data adds entities, a sparser one keeps them
	a := testAccount()
	a.NextDispatch = &types.Dispatch{Start: testNow.Add(5 * time.Hour), End: testNow.Add(6 * time.Hour)}
	r.UpdateEntry("e1", snapshot(a), true)
	assert.Len(t, r.List("e1"), len(ents)+2)
	next, ok := r.Get("octopus_A-1_dispatch_next_start")
	require.True(t, ok)
	assert.True(t, next.Available)

	r.UpdateEntry("e1", snapshot(testAccount()), true)
	assert.Len(t, r.List("e1"), len(ents)+2)
	next, _ = r.Get("octopus_A-1_dispatch_next_start")
	assert.False(t, next.Available)
}

func TestRegistryLateAccountsAndDevices(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)

	// B-2 failed its first fetch and is left out of the snapshot
	r.UpdateEntry("e1", snapshot(testAccount()), true)
	countFor := func(acct string) int {
		var n int
		for _, e := range r.List("e1") {
			if e.AccountNumber == acct {
				n++
			}
		}
		return n
	}
	before := countFor("A-1")
	require.NotZero(t, before)
	assert.Zero(t, countFor("B-2"))

	b := testAccount()
	b.AccountNumber = "B-2"
	snap := snapshot(testAccount())
	snap.Accounts["B-2"] = b
	r.UpdateEntry("e1", snap, true)
	assert.Equal(t, before, countFor("A-1"))
	assert.Equal(t, before, countFor("B-2"))
	price, ok := r.Get("octopus_B-2_electricity_price")
	require.True(t, ok)
	assert.Equal(t, 0.12, price.State)

	// a second device registered after setup gets its controls
	_, ok = r.Get("octopus_B-2_dev-2_smart_control")
	assert.False(t, ok)
	b2 := testAccount()
	b2.AccountNumber = "B-2"
	b2.Devices = append(b2.Devices, types.Device{
		ID:     "DEV-2",
		Name:   "Van",
		Status: types.DeviceStatus{CurrentState: "SMART_CONTROL_CAPABLE"},
	})
	snap = snapshot(testAccount())
	snap.Accounts["B-2"] = b2
	r.UpdateEntry("e1", snap, true)
	for _, key := range []string{KeySmartControl, KeyBoostCharge, KeyChargeTarget, KeyTargetTime} {
		ent, ok := r.Get(UniqueID("B-2", DeviceKey("DEV-2", key)))
		require.True(t, ok, key)
		assert.Equal(t, "DEV-2", ent.DeviceID)
	}
}

func TestRegistryStates(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)
	r.UpdateEntry("e1", snapshot(testAccount()), true)

	price, ok := r.Get("octopus_A-1_electricity_price")
	require.True(t, ok)
	assert.Equal(t, 0.12, price.State)
	assert.True(t, price.Available)
	assert.False(t, price.Stale)
	assert.Equal(t, "Octopus A-1 Electricity Price", price.Name)
	assert.Equal(t, "€/kWh", price.Unit)
	assert.Equal(t, StateTotal, price.StateClass)
	assert.Equal(t, ClassMonetary, price.DeviceClass)
	assert.Equal(t, "F1", price.Attributes["current_band"])
	assert.Equal(t, "123.46 €", price.Attributes["electricity_balance"])
	assert.Equal(t, "IT001E1", price.Attributes["electricity_pod"])
	assert.Equal(t, "A-1", price.Attributes["account_number"])

	start, _ := r.Get("octopus_A-1_electricity_contract_start")
	assert.Equal(t, "2025-01-01", start.State)

	agreements, _ := r.Get("octopus_A-1_electricity_agreements")
	assert.Equal(t, 1, agreements.State)

	smart, _ := r.Get("octopus_A-1_dev-1_smart_control")
	assert.Equal(t, true, smart.State)
	assert.Equal(t, types.PlatformSwitch, smart.Platform)
	assert.Equal(t, "DEV-1", smart.DeviceID)

	target, _ := r.Get("octopus_A-1_dev-1_charge_target")
	assert.Equal(t, 80.0, target.State)
	require.NotNil(t, target.Min)
	assert.Equal(t, 20.0, *target.Min)

	sel, _ := r.Get("octopus_A-1_dev-1_target_time")
	assert.Equal(t, "07:00", sel.State)
	assert.Len(t, sel.Options, 27)
	assert.Equal(t, "04:00", sel.Options[0])
	assert.Equal(t, "17:00", sel.Options[26])

	dispatching, _ := r.Get("octopus_A-1_dispatching")
	assert.Equal(t, true, dispatching.State)

	boost, _ := r.Get("octopus_A-1_dev-1_boost_charge")
	assert.Equal(t, false, boost.State)
}

func TestRegistryFailedPollKeepsValues(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)
	snap := snapshot(testAccount())
	r.UpdateEntry("e1", snap, true)

	// the coordinator keeps the previous snapshot on failure
	r.UpdateEntry("e1", snap, false)
	price, _ := r.Get("octopus_A-1_electricity_price")
	assert.Equal(t, 0.12, price.State)
	assert.True(t, price.Available)
	assert.True(t, price.Stale)
	assert.Equal(t, true, price.Attributes["stale"])

	// a single stale account
	a := testAccount()
	a.Stale = true
	r.UpdateEntry("e1", snapshot(a), true)
	price, _ = r.Get("octopus_A-1_electricity_price")
	assert.True(t, price.Stale)
	assert.True(t, price.Available)
}

func TestRegistryMissingValueUnavailable(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)
	r.UpdateEntry("e1", snapshot(testAccount()), true)

	a := testAccount()
	a.Electricity.ContractDaysUntilExpiry = nil
	r.UpdateEntry("e1", snapshot(a), true)
	days, ok := r.Get("octopus_A-1_electricity_contract_expiry_days")
	require.True(t, ok)
	assert.False(t, days.Available)
	assert.Nil(t, days.State)

	// an account missing from the snapshot
	r.UpdateEntry("e1", &types.Snapshot{Accounts: map[string]*types.AccountData{}}, true)
	price, _ := r.Get("octopus_A-1_electricity_price")
	assert.False(t, price.Available)
}

func TestRegistryPending(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.AddEntry("e1", nil)
	r.UpdateEntry("e1", snapshot(testAccount()), true)
	id := "octopus_A-1_dev-1_charge_target"

	t.Run("ConfirmedByRefresh", func(t *testing.T) {
		require.NoError(t, r.SetPending(id, 55.0))
		ent, _ := r.Get(id)
		assert.Equal(t, 55.0, ent.State)
		assert.True(t, ent.Pending)

		// a refresh that still shows the old value keeps it pending
		r.UpdateEntry("e1", snapshot(testAccount()), true)
		ent, _ = r.Get(id)
		assert.True(t, ent.Pending)

		a := testAccount()
		a.Devices[0].Preferences.Schedules[0].Max = types.NewNumber(55)
		r.UpdateEntry("e1", snapshot(a), true)
		ent, _ = r.Get(id)
		assert.Equal(t, 55.0, ent.State)
		assert.False(t, ent.Pending)
	})

	t.Run("ClearedOnFailure", func(t *testing.T) {
		require.NoError(t, r.SetPending(id, 90.0))
		require.NoError(t, r.ClearPending(id))
		ent, _ := r.Get(id)
		assert.False(t, ent.Pending)
		assert.NotEqual(t, 90.0, ent.State)
	})

	t.Run("TimesOut", func(t *testing.T) {
		require.NoError(t, r.SetPending(id, 95.0))
		later := testNow.Add(2 * time.Minute)
		r.now = func() time.Time { return later }
		r.pending.now = r.now
		defer func() {
			r.now = func() time.Time { return testNow }
			r.pending.now = r.now
		}()
		r.UpdateEntry("e1", snapshot(testAccount()), true)
		ent, _ := r.Get(id)
		assert.False(t, ent.Pending)
		assert.Equal(t, 80.0, ent.State)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		assert.ErrorIs(t, r.SetPending("nope", 1.0), ErrNotFound)
	})
}

func TestRegistryEnableDisable(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", []string{"octopus_A-1_electricity_balance"})
	r.UpdateEntry("e1", snapshot(testAccount()), true)

	bal, _ := r.Get("octopus_A-1_electricity_balance")
	assert.False(t, bal.Enabled)
	assert.False(t, bal.Available)
	assert.Nil(t, bal.State)

	entryID, err := r.SetEnabled("octopus_A-1_electricity_balance", true)
	require.NoError(t, err)
	assert.Equal(t, "e1", entryID)
	bal, _ = r.Get("octopus_A-1_electricity_balance")
	assert.True(t, bal.Enabled)
	assert.InDelta(t, 123.456, bal.State, 0.0001)
	assert.Empty(t, r.Disabled("e1"))

	_, err = r.SetEnabled("octopus_A-1_electricity_price", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"octopus_A-1_electricity_price"}, r.Disabled("e1"))

	_, err = r.SetEnabled("nope", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRemoveEntry(t *testing.T) {
	r := newTestRegistry(0)
	r.AddEntry("e1", nil)
	r.UpdateEntry("e1", snapshot(testAccount()), true)
	require.NotEmpty(t, r.List("e1"))

	r.RemoveEntry("e1")
	assert.Empty(t, r.List("e1"))
	_, ok := r.Get("octopus_A-1_electricity_price")
	assert.False(t, ok)

	// updates for a removed entry are ignored
	r.UpdateEntry("e1", snapshot(testAccount()), true)
	assert.Empty(t, r.List(""))
}

func TestRegistryPublic(t *testing.T) {
	r := newTestRegistry(0)
	products := &types.PublicProducts{
		FetchedAt: testNow,
		Products: []types.PublicProduct{
			{Code: "FLEX-MONO", Name: "Flex Mono", Fuel: "electricity", UnitRate: f(0.13)},
			{Code: "GAS-FIX", Name: "Gas Fisso", Fuel: "gas", UnitRate: f(0.45), UnitRateUnits: "€/Smc"},
		},
	}
	r.UpdatePublic(products, true)

	ent, ok := r.Get("octopus_public_electricity_flex-mono")
	require.True(t, ok)
	assert.Equal(t, 0.13, ent.State)
	assert.True(t, ent.Available)
	assert.Equal(t, PublicEntryID, ent.EntryID)

	// failure keeps last known prices
	r.UpdatePublic(products, false)
	ent, _ = r.Get("octopus_public_gas_gas-fix")
	assert.Equal(t, 0.45, ent.State)
	assert.True(t, ent.Stale)
	assert.Equal(t, "€/Smc", ent.Unit)
	assert.Len(t, r.List(PublicEntryID), 2)
}

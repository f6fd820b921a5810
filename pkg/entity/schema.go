package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/octoit/octoit/pkg/types"
)

// Device and state classes.
const (
	ClassMonetary    = "monetary"
	ClassDate        = "date"
	ClassTimestamp   = "timestamp"
	ClassBattery     = "battery"
	ClassEnergy      = "energy"
	ClassGas         = "gas"
	StateTotal       = "total"
	StateMeasurement = "measurement"
	StateTotalInc    = "total_increasing"
)

// Charge target limits accepted by the API.
const (
	ChargeTargetMin  = 20
	ChargeTargetMax  = 100
	ChargeTargetStep = 5
)

// Entity keys of the controls.
const (
	KeySmartControl = "smart_control"
	KeyBoostCharge  = "boost_charge"
	KeyChargeTarget = "charge_target"
	KeyTargetTime   = "target_time"
	KeyDispatching  = "dispatching"
)

// TargetTimeOptions are the ready-by times offered for selection.
var TargetTimeOptions = func() []string {
	var opts []string
	for m := 4 * 60; m <= 17*60; m += 30 {
		opts = append(opts, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return opts
}()

// Definition describes how an entity is derived from account data.
type Definition struct {
	Key         string
	Platform    types.Platform
	Name        string
	DeviceClass string
	StateClass  string
	Unit        string
	DeviceID    string
	Options     []string
	Min         *float64
	Max         *float64
	Step        *float64

	// Value returns the state and false when it is not known.
	Value func(a *types.AccountData, now time.Time) (any, bool)
	// Attributes may be nil.
	Attributes func(a *types.AccountData, now time.Time) map[string]any
	// UnitFunc overrides Unit when it returns a non-empty string.
	UnitFunc func(a *types.AccountData) string
}

// UniqueID returns the stable id of the entity for an account.
func UniqueID(accountNumber, key string) string {
	return "octopus_" + accountNumber + "_" + key
}

func floatValue(p *float64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func stringValue(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func dateValue(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return t.In(types.Rome).Format(time.DateOnly), true
}

func timeAttr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func floatAttr(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptr(f float64) *float64 { return &f }

func supplyOf(fuel string) func(a *types.AccountData) *types.Supply {
	return func(a *types.AccountData) *types.Supply {
		if fuel == "gas" {
			return a.Gas
		}
		return a.Electricity
	}
}

// AccountDefinitions returns the entities to create for an account. Only
// entities with data in the snapshot are returned.
func AccountDefinitions(a *types.AccountData) []Definition {
	var defs []Definition

	if e := a.Electricity; e != nil && e.SupplyPoint.Identifier != "" {
		if len(e.Products) > 0 {
			defs = append(defs, electricityPrice())
		}
		if a.ElectricityBalance != nil {
			defs = append(defs, balance("electricity_balance", "Electricity Balance", func(a *types.AccountData) *float64 { return a.ElectricityBalance }))
		}
		defs = append(defs, supplyDefinitions("electricity", "Electricity", e)...)
		if e.LatestReading != nil {
			defs = append(defs, meterReading("electricity", "Electricity", "kWh", ClassEnergy))
		}
	}

	if g := a.Gas; g != nil && g.SupplyPoint.Identifier != "" {
		if a.GasBalance != nil {
			defs = append(defs, balance("gas_balance", "Gas Balance", func(a *types.AccountData) *float64 { return a.GasBalance }))
		}
		if len(g.Products) > 0 {
			defs = append(defs, gasTariff())
		}
		defs = append(defs,
			Definition{
				Key:      "gas_pdr",
				Platform: types.PlatformSensor,
				Name:     "Gas PDR",
				Value: func(a *types.AccountData, _ time.Time) (any, bool) {
					if a.Gas == nil {
						return nil, false
					}
					return stringValue(a.Gas.SupplyPoint.Identifier)
				},
			},
			Definition{
				Key:      "gas_supply_point_id",
				Platform: types.PlatformSensor,
				Name:     "Gas Supply Point ID",
				Value: func(a *types.AccountData, _ time.Time) (any, bool) {
					if a.Gas == nil {
						return nil, false
					}
					return stringValue(a.Gas.SupplyPoint.ID)
				},
			},
		)
		if g.Price != nil {
			defs = append(defs, Definition{
				Key:         "gas_price",
				Platform:    types.PlatformSensor,
				Name:        "Gas Price",
				DeviceClass: ClassMonetary,
				StateClass:  StateTotal,
				Unit:        "€/Smc",
				UnitFunc: func(a *types.AccountData) string {
					if a.Gas != nil && a.Gas.CurrentProduct != nil {
						return a.Gas.CurrentProduct.Pricing.Units
					}
					return ""
				},
				Value: func(a *types.AccountData, _ time.Time) (any, bool) {
					if a.Gas == nil {
						return nil, false
					}
					return floatValue(a.Gas.Price)
				},
			})
		}
		defs = append(defs, supplyDefinitions("gas", "Gas", g)...)
		if g.LatestReading != nil {
			defs = append(defs, meterReading("gas", "Gas", "m³", ClassGas))
		}
	}

	if len(a.Devices) > 0 {
		defs = append(defs, deviceStatus(), chargeTargetSensor(), targetTimeSensor())
		defs = append(defs, dispatching())
		for _, d := range a.Devices {
			defs = append(defs, deviceControls(d)...)
		}
	}

	if a.HeatBalance != nil && *a.HeatBalance != 0 {
		defs = append(defs, balance("heat_balance", "Heat Balance", func(a *types.AccountData) *float64 { return a.HeatBalance }))
	}

	ledgers := make([]string, 0, len(a.OtherLedgers))
	for l := range a.OtherLedgers {
		ledgers = append(ledgers, l)
	}
	sort.Strings(ledgers)
	for _, l := range ledgers {
		ledger := l
		defs = append(defs, balance(strings.ToLower(ledger)+"_balance", types.LedgerDisplayName(ledger)+" Balance", func(a *types.AccountData) *float64 {
			v, ok := a.OtherLedgers[ledger]
			if !ok {
				return nil
			}
			return &v
		}))
	}

	windows := []struct {
		key, name string
		get       func(a *types.AccountData) *time.Time
	}{
		{"dispatch_current_start", "Current Dispatch Start", func(a *types.AccountData) *time.Time {
			if a.CurrentDispatch == nil {
				return nil
			}
			return &a.CurrentDispatch.Start
		}},
		{"dispatch_current_end", "Current Dispatch End", func(a *types.AccountData) *time.Time {
			if a.CurrentDispatch == nil {
				return nil
			}
			return &a.CurrentDispatch.End
		}},
		{"dispatch_next_start", "Next Dispatch Start", func(a *types.AccountData) *time.Time {
			if a.NextDispatch == nil {
				return nil
			}
			return &a.NextDispatch.Start
		}},
		{"dispatch_next_end", "Next Dispatch End", func(a *types.AccountData) *time.Time {
			if a.NextDispatch == nil {
				return nil
			}
			return &a.NextDispatch.End
		}},
	}
	for _, w := range windows {
		if w.get(a) == nil {
			continue
		}
		get, key := w.get, w.key
		defs = append(defs, Definition{
			Key:         key,
			Platform:    types.PlatformSensor,
			Name:        w.name,
			DeviceClass: ClassTimestamp,
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				t := get(a)
				if t == nil {
					return nil, false
				}
				return t.Format(time.RFC3339), true
			},
			Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
				return map[string]any{"window_key": strings.TrimPrefix(key, "dispatch_")}
			},
		})
	}

	if a.VehicleBatterySizeKWh != nil {
		defs = append(defs, vehicleBatterySize())
	}

	return defs
}

func balance(key, name string, get func(a *types.AccountData) *float64) Definition {
	return Definition{
		Key:         key,
		Platform:    types.PlatformSensor,
		Name:        name,
		DeviceClass: ClassMonetary,
		StateClass:  StateTotal,
		Unit:        "€",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			return floatValue(get(a))
		},
	}
}

func electricityPrice() Definition {
	return Definition{
		Key:         "electricity_price",
		Platform:    types.PlatformSensor,
		Name:        "Electricity Price",
		DeviceClass: ClassMonetary,
		StateClass:  StateTotal,
		Unit:        "€/kWh",
		Value: func(a *types.AccountData, now time.Time) (any, bool) {
			if a.Electricity == nil || a.Electricity.CurrentProduct == nil {
				return nil, false
			}
			rate, _ := a.Electricity.CurrentProduct.RateAt(now)
			return floatValue(rate)
		},
		Attributes: func(a *types.AccountData, now time.Time) map[string]any {
			e := a.Electricity
			if e == nil || e.CurrentProduct == nil {
				return nil
			}
			p := e.CurrentProduct
			attrs := map[string]any{
				"code":                         p.Code,
				"name":                         p.Name,
				"description":                  p.Description,
				"type":                         p.Type,
				"valid_from":                   timeAttr(p.ValidFrom),
				"valid_to":                     timeAttr(p.ValidTo),
				"electricity_pod":              e.SupplyPoint.Identifier,
				"electricity_supply_point_id":  e.SupplyPoint.ID,
				"active_tariff_type":           p.Type,
				"pricing_base":                 floatAttr(p.Pricing.Base),
				"pricing_f2":                   floatAttr(p.Pricing.F2),
				"pricing_f3":                   floatAttr(p.Pricing.F3),
				"pricing_units":                p.Pricing.Units,
				"annual_standing_charge":       floatAttr(p.Pricing.AnnualStandingCharge),
				"annual_standing_charge_units": p.Pricing.AnnualStandingChargeUnits,
				"terms_url":                    p.TermsURL,
				"gross_rate":                   p.GrossRate,
			}
			if _, band := p.RateAt(now); band != "" {
				attrs["current_band"] = band
			}
			if a.ElectricityBalance != nil {
				attrs["electricity_balance"] = fmt.Sprintf("%.2f €", *a.ElectricityBalance)
			}
			return attrs
		},
	}
}

func gasTariff() Definition {
	return Definition{
		Key:      "gas_tariff",
		Platform: types.PlatformSensor,
		Name:     "Gas Tariff",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			if a.Gas == nil || a.Gas.CurrentProduct == nil {
				return nil, false
			}
			return stringValue(a.Gas.CurrentProduct.Code)
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			if a.Gas == nil || a.Gas.CurrentProduct == nil {
				return nil
			}
			p := a.Gas.CurrentProduct
			attrs := map[string]any{
				"code":                         p.Code,
				"name":                         p.Name,
				"description":                  p.Description,
				"type":                         p.Type,
				"valid_from":                   timeAttr(p.ValidFrom),
				"valid_to":                     timeAttr(p.ValidTo),
				"pricing_base":                 floatAttr(p.Pricing.Base),
				"pricing_units":                p.Pricing.Units,
				"annual_standing_charge":       floatAttr(p.Pricing.AnnualStandingCharge),
				"annual_standing_charge_units": p.Pricing.AnnualStandingChargeUnits,
				"terms_url":                    p.TermsURL,
			}
			if a.GasBalance != nil {
				attrs["gas_balance"] = fmt.Sprintf("%.2f €", *a.GasBalance)
			}
			return attrs
		},
	}
}

// supplyDefinitions returns the supply status, standing charge, contract,
// product and agreement sensors of a fuel.
func supplyDefinitions(fuel, label string, s *types.Supply) []Definition {
	supply := supplyOf(fuel)
	var defs []Definition

	defs = append(defs, Definition{
		Key:      fuel + "_supply_status",
		Platform: types.PlatformSensor,
		Name:     label + " Supply Status",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			s := supply(a)
			if s == nil {
				return nil, false
			}
			return stringValue(s.SupplyPoint.Status)
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			s := supply(a)
			if s == nil {
				return nil
			}
			sp := s.SupplyPoint
			attrs := map[string]any{
				"enrolment_status":    sp.EnrolmentStatus,
				"enrolment_start":     timeAttr(sp.EnrolmentStartDate),
				"supply_start":        timeAttr(sp.SupplyStartDate),
				"cancellation_reason": sp.CancellationReason,
				"supply_point_id":     sp.ID,
			}
			if sp.IsSmartMeter != nil {
				attrs["is_smart_meter"] = *sp.IsSmartMeter
			}
			if fuel == "gas" {
				attrs["pdr"] = sp.Identifier
			} else {
				attrs["pod"] = sp.Identifier
			}
			return attrs
		},
	})

	if s.AnnualStandingCharge != nil {
		defs = append(defs, Definition{
			Key:         fuel + "_standing_charge",
			Platform:    types.PlatformSensor,
			Name:        label + " Standing Charge",
			DeviceClass: ClassMonetary,
			StateClass:  StateMeasurement,
			Unit:        "€/anno",
			UnitFunc: func(a *types.AccountData) string {
				if s := supply(a); s != nil {
					return s.AnnualStandingChargeUnits
				}
				return ""
			},
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil {
					return nil, false
				}
				return floatValue(s.AnnualStandingCharge)
			},
			Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
				if s := supply(a); s != nil {
					return map[string]any{"terms_url": s.TermsURL}
				}
				return nil
			},
		})
	}

	if s.ContractStart != nil {
		defs = append(defs, Definition{
			Key:         fuel + "_contract_start",
			Platform:    types.PlatformSensor,
			Name:        label + " Contract Start",
			DeviceClass: ClassDate,
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil {
					return nil, false
				}
				return dateValue(s.ContractStart)
			},
		})
	}
	if s.ContractEnd != nil {
		defs = append(defs, Definition{
			Key:         fuel + "_contract_end",
			Platform:    types.PlatformSensor,
			Name:        label + " Contract End",
			DeviceClass: ClassDate,
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil {
					return nil, false
				}
				return dateValue(s.ContractEnd)
			},
		})
	}
	if s.ContractDaysUntilExpiry != nil {
		defs = append(defs, Definition{
			Key:        fuel + "_contract_expiry_days",
			Platform:   types.PlatformSensor,
			Name:       label + " Contract Days Until Expiry",
			StateClass: StateMeasurement,
			Unit:       "days",
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil || s.ContractDaysUntilExpiry == nil {
					return nil, false
				}
				return *s.ContractDaysUntilExpiry, true
			},
		})
	}

	if s.CurrentProduct != nil {
		defs = append(defs, Definition{
			Key:      fuel + "_product",
			Platform: types.PlatformSensor,
			Name:     label + " Product",
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil || s.CurrentProduct == nil {
					return nil, false
				}
				return stringValue(s.CurrentProduct.Label())
			},
			Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
				s := supply(a)
				if s == nil || s.CurrentProduct == nil {
					return nil
				}
				p := s.CurrentProduct
				attrs := map[string]any{
					"code":                         p.Code,
					"description":                  p.Description,
					"product_type":                 p.ProductType,
					"agreement_id":                 p.AgreementID,
					"valid_from":                   timeAttr(p.ValidFrom),
					"valid_to":                     timeAttr(p.ValidTo),
					"terms_url":                    p.TermsURL,
					"pricing_base":                 floatAttr(p.Pricing.Base),
					"pricing_units":                p.Pricing.Units,
					"annual_standing_charge":       floatAttr(p.Pricing.AnnualStandingCharge),
					"annual_standing_charge_units": p.Pricing.AnnualStandingChargeUnits,
				}
				if fuel == "electricity" {
					attrs["is_time_of_use"] = p.IsTimeOfUse
					attrs["pricing_f2"] = floatAttr(p.Pricing.F2)
					attrs["pricing_f3"] = floatAttr(p.Pricing.F3)
				}
				return attrs
			},
		})
	}

	if len(s.Agreements) > 0 {
		defs = append(defs, Definition{
			Key:      fuel + "_agreements",
			Platform: types.PlatformSensor,
			Name:     label + " Agreements",
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				s := supply(a)
				if s == nil || len(s.Agreements) == 0 {
					return nil, false
				}
				return s.ActiveAgreements(), true
			},
			Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
				s := supply(a)
				if s == nil {
					return nil
				}
				list := make([]map[string]any, 0, len(s.Agreements))
				for _, ag := range s.Agreements {
					list = append(list, map[string]any{
						"id":            ag.ID,
						"product_code":  ag.ProductCode,
						"product_name":  ag.ProductName,
						"valid_from":    timeAttr(ag.ValidFrom),
						"valid_to":      timeAttr(ag.ValidTo),
						"agreed_at":     timeAttr(ag.AgreedAt),
						"terminated_at": timeAttr(ag.TerminatedAt),
						"is_active":     ag.IsActive,
					})
				}
				return map[string]any{"agreements": list}
			},
		})
	}

	return defs
}

func meterReading(fuel, label, unit, class string) Definition {
	supply := supplyOf(fuel)
	return Definition{
		Key:         fuel + "_meter_reading",
		Platform:    types.PlatformSensor,
		Name:        label + " Meter Reading",
		DeviceClass: class,
		StateClass:  StateTotalInc,
		Unit:        unit,
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			s := supply(a)
			if s == nil || s.LatestReading == nil {
				return nil, false
			}
			return floatValue(s.LatestReading.Value)
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			s := supply(a)
			if s == nil || s.LatestReading == nil {
				return nil
			}
			r := s.LatestReading
			return map[string]any{
				"meter_id":           r.MeterID,
				"read_at":            timeAttr(r.ReadAt),
				"register_obis_code": r.RegisterObisCode,
				"register_type":      r.RegisterType,
				"type_of_read":       r.TypeOfRead,
				"origin":             r.Origin,
			}
		},
	}
}

func firstDevice(a *types.AccountData) *types.Device {
	if len(a.Devices) == 0 {
		return nil
	}
	return &a.Devices[0]
}

func deviceStatus() Definition {
	return Definition{
		Key:      "device_status",
		Platform: types.PlatformSensor,
		Name:     "Device Status",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			d := firstDevice(a)
			if d == nil {
				return nil, false
			}
			if d.Status.CurrentState == "" {
				return "Unknown", true
			}
			return d.Status.CurrentState, true
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			d := firstDevice(a)
			if d == nil {
				return nil
			}
			attrs := map[string]any{
				"device_id":       d.ID,
				"device_name":     d.Name,
				"device_provider": d.Provider,
				"is_suspended":    d.Status.IsSuspended,
				"current_state":   d.Status.CurrentState,
			}
			if v := d.VehicleVariant; v != nil {
				attrs["device_model"] = v.Model
				attrs["battery_size"] = floatAttr(v.BatterySize.Ptr())
			}
			if p := d.Preferences; p != nil {
				attrs["preferences_mode"] = p.Mode
				attrs["preferences_unit"] = p.Unit
				attrs["preferences_target_type"] = p.TargetType
				attrs["preferences_grid_export"] = p.GridExport
				attrs["preferences_schedules"] = p.Schedules
			}
			if len(d.Alerts) > 0 {
				attrs["alerts"] = d.Alerts
			}
			return attrs
		},
	}
}

func chargeTargetSensor() Definition {
	return Definition{
		Key:         "device_charge_target",
		Platform:    types.PlatformSensor,
		Name:        "Device Charge Target",
		DeviceClass: ClassBattery,
		StateClass:  StateMeasurement,
		Unit:        "%",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			d := firstDevice(a)
			if d == nil {
				return nil, false
			}
			return floatValue(d.TargetPercentage())
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			d := firstDevice(a)
			if d == nil || d.Preferences == nil {
				return nil
			}
			return map[string]any{
				"device_id":   d.ID,
				"device_name": d.Name,
				"mode":        d.Preferences.Mode,
				"unit":        d.Preferences.Unit,
				"target_type": d.Preferences.TargetType,
				"grid_export": d.Preferences.GridExport,
				"schedules":   d.Preferences.Schedules,
			}
		},
	}
}

func targetTimeSensor() Definition {
	return Definition{
		Key:      "device_target_time",
		Platform: types.PlatformSensor,
		Name:     "Device Target Time",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			d := firstDevice(a)
			if d == nil {
				return nil, false
			}
			return stringValue(d.TargetTime())
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			d := firstDevice(a)
			if d == nil || d.Preferences == nil || len(d.Preferences.Schedules) == 0 {
				return nil
			}
			s := d.Preferences.Schedules[0]
			return map[string]any{
				"device_id":         d.ID,
				"device_name":       d.Name,
				"day_of_week":       s.DayOfWeek,
				"target_percentage": floatAttr(s.Max.Ptr()),
			}
		},
	}
}

func dispatching() Definition {
	return Definition{
		Key:      KeyDispatching,
		Platform: types.PlatformBinarySensor,
		Name:     "Dispatching",
		Value: func(a *types.AccountData, now time.Time) (any, bool) {
			for i := range a.PlannedDispatches {
				if a.PlannedDispatches[i].ActiveAt(now) {
					return true, true
				}
			}
			return false, true
		},
		Attributes: func(a *types.AccountData, now time.Time) map[string]any {
			planned := make([]map[string]any, 0, len(a.PlannedDispatches))
			for _, d := range a.PlannedDispatches {
				planned = append(planned, dispatchAttr(d))
			}
			completed := make([]map[string]any, 0, len(a.CompletedDispatches))
			for _, d := range a.CompletedDispatches {
				completed = append(completed, dispatchAttr(d))
			}
			attrs := map[string]any{
				"planned_dispatches":   planned,
				"completed_dispatches": completed,
			}
			if a.CurrentDispatch != nil {
				attrs["current_dispatch"] = dispatchAttr(*a.CurrentDispatch)
			}
			if a.NextDispatch != nil {
				attrs["next_dispatch"] = dispatchAttr(*a.NextDispatch)
			}
			return attrs
		},
	}
}

func dispatchAttr(d types.Dispatch) map[string]any {
	return map[string]any{
		"start":     d.Start.Format(time.RFC3339),
		"end":       d.End.Format(time.RFC3339),
		"delta_kwh": floatAttr(d.EnergyAddedKWh),
		"type":      d.Type,
		"device_id": d.DeviceID,
		"source":    d.Source,
	}
}

// DeviceKey returns the key of a per device control entity.
func DeviceKey(deviceID, key string) string {
	return strings.ToLower(deviceID) + "_" + key
}

func deviceByID(a *types.AccountData, id string) *types.Device {
	for i := range a.Devices {
		if a.Devices[i].ID == id {
			return &a.Devices[i]
		}
	}
	return nil
}

// BoostActive reports whether the device is boost charging.
func BoostActive(a *types.AccountData, d *types.Device, now time.Time) bool {
	if strings.Contains(strings.ToUpper(d.Status.CurrentState), "BOOST") {
		return true
	}
	for i := range a.PlannedDispatches {
		p := &a.PlannedDispatches[i]
		if p.DeviceID == d.ID && strings.EqualFold(p.Type, "BOOST") && p.ActiveAt(now) {
			return true
		}
	}
	return false
}

func deviceControls(dev types.Device) []Definition {
	id := dev.ID
	label := dev.Name
	if label == "" {
		label = id
	}
	return []Definition{
		{
			Key:      DeviceKey(id, KeySmartControl),
			Platform: types.PlatformSwitch,
			Name:     label + " Smart Control",
			DeviceID: id,
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				d := deviceByID(a, id)
				if d == nil {
					return nil, false
				}
				return !d.Status.IsSuspended, true
			},
		},
		{
			Key:      DeviceKey(id, KeyBoostCharge),
			Platform: types.PlatformSwitch,
			Name:     label + " Boost Charge",
			DeviceID: id,
			Value: func(a *types.AccountData, now time.Time) (any, bool) {
				d := deviceByID(a, id)
				if d == nil {
					return nil, false
				}
				return BoostActive(a, d, now), true
			},
		},
		{
			Key:      DeviceKey(id, KeyChargeTarget),
			Platform: types.PlatformNumber,
			Name:     label + " Charge Target",
			DeviceID: id,
			Unit:     "%",
			Min:      ptr(ChargeTargetMin),
			Max:      ptr(ChargeTargetMax),
			Step:     ptr(ChargeTargetStep),
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				d := deviceByID(a, id)
				if d == nil {
					return nil, false
				}
				return floatValue(d.TargetPercentage())
			},
		},
		{
			Key:      DeviceKey(id, KeyTargetTime),
			Platform: types.PlatformSelect,
			Name:     label + " Target Time",
			DeviceID: id,
			Options:  TargetTimeOptions,
			Value: func(a *types.AccountData, _ time.Time) (any, bool) {
				d := deviceByID(a, id)
				if d == nil {
					return nil, false
				}
				return stringValue(d.TargetTime())
			},
		},
	}
}

func vehicleBatterySize() Definition {
	return Definition{
		Key:         "vehicle_battery_size",
		Platform:    types.PlatformSensor,
		Name:        "Vehicle Battery Size",
		DeviceClass: ClassEnergy,
		StateClass:  StateMeasurement,
		Unit:        "kWh",
		Value: func(a *types.AccountData, _ time.Time) (any, bool) {
			return floatValue(a.VehicleBatterySizeKWh)
		},
		Attributes: func(a *types.AccountData, _ time.Time) map[string]any {
			for _, d := range a.Devices {
				if d.VehicleVariant != nil && d.VehicleVariant.BatterySize != nil {
					return map[string]any{
						"device_id":   d.ID,
						"device_name": d.Name,
						"model":       d.VehicleVariant.Model,
					}
				}
			}
			return nil
		},
	}
}

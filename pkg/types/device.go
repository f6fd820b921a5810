package types

import (
	"time"
)

// Smart control actions.
const (
	SmartControlSuspend   = "SUSPEND"
	SmartControlUnsuspend = "UNSUSPEND"
)

// Boost charge actions.
const (
	BoostChargeBoost  = "BOOST"
	BoostChargeCancel = "CANCEL"
)

// Device is a SmartFlex capable charger or vehicle.
type Device struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	DeviceType          string             `json:"deviceType"`
	Provider            string             `json:"provider,omitempty"`
	IntegrationDeviceID string             `json:"integrationDeviceId,omitempty"`
	Status              DeviceStatus       `json:"status"`
	Preferences         *Preferences       `json:"preferences,omitempty"`
	PreferenceSetting   *PreferenceSetting `json:"preferenceSetting,omitempty"`
	VehicleVariant      *VehicleVariant    `json:"vehicleVariant,omitempty"`
	Alerts              []DeviceAlert      `json:"alerts,omitempty"`
}

// DeviceStatus is the live status of a device.
type DeviceStatus struct {
	Current      string `json:"current,omitempty"`
	CurrentState string `json:"currentState,omitempty"`
	IsSuspended  bool   `json:"isSuspended"`
}

// Preferences are the charging preferences of a device.
type Preferences struct {
	Mode       string     `json:"mode,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	TargetType string     `json:"targetType,omitempty"`
	GridExport any        `json:"gridExport,omitempty"`
	Schedules  []Schedule `json:"schedules,omitempty"`
}

// Schedule is a per weekday charging target.
type Schedule struct {
	DayOfWeek string  `json:"dayOfWeek"`
	Time      string  `json:"time"`
	Max       *Number `json:"max,omitempty"`
	Min       *Number `json:"min,omitempty"`
}

// PreferenceSetting describes the allowed ranges for preferences.
type PreferenceSetting struct {
	ID               string            `json:"id"`
	DeviceType       string            `json:"deviceType,omitempty"`
	Mode             string            `json:"mode,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	ScheduleSettings []ScheduleSetting `json:"scheduleSettings,omitempty"`
}

// ScheduleSetting is one allowed schedule range.
type ScheduleSetting struct {
	ID       string  `json:"id"`
	Max      *Number `json:"max,omitempty"`
	Min      *Number `json:"min,omitempty"`
	Step     *Number `json:"step,omitempty"`
	TimeFrom string  `json:"timeFrom,omitempty"`
	TimeTo   string  `json:"timeTo,omitempty"`
	TimeStep *Number `json:"timeStep,omitempty"`
}

// VehicleVariant identifies the vehicle model.
type VehicleVariant struct {
	Model       string  `json:"model,omitempty"`
	BatterySize *Number `json:"batterySize,omitempty"`
}

// DeviceAlert is a message published for a device.
type DeviceAlert struct {
	Message     string `json:"message"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// TargetPercentage returns the first schedule max, the configured charge
// target.
func (d *Device) TargetPercentage() *float64 {
	if d.Preferences == nil {
		return nil
	}
	for _, s := range d.Preferences.Schedules {
		if s.Max != nil {
			return s.Max.Ptr()
		}
	}
	return nil
}

// TargetTime returns the ready-by time of the first schedule as HH:MM.
func (d *Device) TargetTime() string {
	if d.Preferences == nil || len(d.Preferences.Schedules) == 0 {
		return ""
	}
	t := d.Preferences.Schedules[0].Time
	if len(t) > 5 {
		t = t[:5]
	}
	return t
}

// Dispatch is a smart charging window.
type Dispatch struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	EnergyAddedKWh *float64  `json:"energyAddedKWh,omitempty"`
	Type           string    `json:"type,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// ActiveAt reports whether t falls within the window.
func (d *Dispatch) ActiveAt(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

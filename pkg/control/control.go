package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
)

// Defaults used when changing only one of the two preferences and the other
// is not known yet.
const (
	DefaultTargetPercentage = 100
	DefaultTargetTime       = "07:00"
)

var (
	minTargetTime = 4 * 60
	maxTargetTime = 17 * 60
)

// ValidationError is returned for input rejected before contacting the API.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Mutator is the subset of the Kraken client used by control actions.
type Mutator interface {
	ChangeDeviceSuspension(ctx context.Context, deviceID, action string) (string, error)
	UpdateBoostCharge(ctx context.Context, deviceID, action string) (string, error)
	SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage int, targetTime string) error
}

// Refresher triggers a one-shot refresh without waiting for it.
type Refresher interface {
	RequestRefresh()
}

// Target is the client and coordinator of a config entry.
type Target struct {
	Client      Mutator
	Coordinator Refresher
}

// ResolveFunc returns the Target of a loaded config entry.
type ResolveFunc func(entryID string) (Target, bool)

// Controller translates control actions into mutations.
type Controller struct {
	registry *entity.Registry
	resolve  ResolveFunc
}

// New returns a Controller.
func New(registry *entity.Registry, resolve ResolveFunc) *Controller {
	return &Controller{registry: registry, resolve: resolve}
}

// ErrNotLoaded is returned when the entry of an entity is not loaded.
var ErrNotLoaded = errors.New("config entry not loaded")

func (c *Controller) lookup(uniqueID string, platform types.Platform) (types.Entity, Target, error) {
	ent, ok := c.registry.Get(uniqueID)
	if !ok {
		return types.Entity{}, Target{}, fmt.Errorf("%w: %s", entity.ErrNotFound, uniqueID)
	}
	if ent.Platform != platform {
		return types.Entity{}, Target{}, &ValidationError{Field: "entity", Message: fmt.Sprintf("%s is a %s, not a %s", uniqueID, ent.Platform, platform)}
	}
	if !ent.Enabled {
		return types.Entity{}, Target{}, &ValidationError{Field: "entity", Message: uniqueID + " is disabled"}
	}
	target, ok := c.resolve(ent.EntryID)
	if !ok {
		return types.Entity{}, Target{}, fmt.Errorf("%w: %s", ErrNotLoaded, ent.EntryID)
	}
	return ent, target, nil
}

// apply marks the entities pending, runs the mutation and requests a
// refresh. Pending values are dropped if the mutation fails.
func (c *Controller) apply(ctx context.Context, target Target, pending map[string]any, mutate func() error) error {
	for id, v := range pending {
		if err := c.registry.SetPending(id, v); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "failed to set pending state", slog.String("entity", id), slog.Any("error", err))
		}
	}
	if err := mutate(); err != nil {
		for id := range pending {
			_ = c.registry.ClearPending(id)
		}
		return err
	}
	target.Coordinator.RequestRefresh()
	return nil
}

// SetSwitch turns a smart control or boost charge switch on or off.
func (c *Controller) SetSwitch(ctx context.Context, uniqueID string, on bool) error {
	ent, target, err := c.lookup(uniqueID, types.PlatformSwitch)
	if err != nil {
		return err
	}

	var mutate func() error
	switch {
	case strings.HasSuffix(ent.Key, entity.KeySmartControl):
		action := types.SmartControlSuspend
		if on {
			action = types.SmartControlUnsuspend
		}
		mutate = func() error {
			_, err := target.Client.ChangeDeviceSuspension(ctx, ent.DeviceID, action)
			return err
		}
	case strings.HasSuffix(ent.Key, entity.KeyBoostCharge):
		action := types.BoostChargeCancel
		if on {
			action = types.BoostChargeBoost
		}
		mutate = func() error {
			_, err := target.Client.UpdateBoostCharge(ctx, ent.DeviceID, action)
			return err
		}
	default:
		return &ValidationError{Field: "entity", Message: "unsupported switch " + uniqueID}
	}

	log.Ctx(ctx).InfoContext(ctx, "setting switch", slog.String("entity", uniqueID), slog.Bool("on", on))
	return c.apply(ctx, target, map[string]any{uniqueID: on}, mutate)
}

// SetNumber sets the charge target of a device keeping its target time.
func (c *Controller) SetNumber(ctx context.Context, uniqueID string, value float64) error {
	ent, target, err := c.lookup(uniqueID, types.PlatformNumber)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(ent.Key, entity.KeyChargeTarget) {
		return &ValidationError{Field: "entity", Message: "unsupported number " + uniqueID}
	}
	pct, err := ValidateTargetPercentage(value)
	if err != nil {
		return err
	}
	tt := DefaultTargetTime
	timeID := entity.UniqueID(ent.AccountNumber, entity.DeviceKey(ent.DeviceID, entity.KeyTargetTime))
	if sel, ok := c.registry.Get(timeID); ok {
		if s, ok := sel.State.(string); ok && s != "" {
			tt = s
		}
	}
	return c.setPreferences(ctx, target, ent, pct, tt)
}

// SelectOption sets the target time of a device keeping its charge target.
func (c *Controller) SelectOption(ctx context.Context, uniqueID, option string) error {
	ent, target, err := c.lookup(uniqueID, types.PlatformSelect)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(ent.Key, entity.KeyTargetTime) {
		return &ValidationError{Field: "entity", Message: "unsupported select " + uniqueID}
	}
	tt, err := NormalizeTargetTime(option)
	if err != nil {
		return err
	}
	if !slices.Contains(ent.Options, tt) {
		return &ValidationError{Field: "option", Message: fmt.Sprintf("%s is not one of the options of %s", option, uniqueID)}
	}
	pct := DefaultTargetPercentage
	numID := entity.UniqueID(ent.AccountNumber, entity.DeviceKey(ent.DeviceID, entity.KeyChargeTarget))
	if num, ok := c.registry.Get(numID); ok {
		if v, ok := num.NumericState(); ok {
			pct = int(math.Round(v))
		}
	}
	return c.setPreferences(ctx, target, ent, pct, tt)
}

// SetDevicePreferences validates and sets both preferences of a device.
func (c *Controller) SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage float64, targetTime string) error {
	pct, err := ValidateTargetPercentage(targetPercentage)
	if err != nil {
		return err
	}
	tt, err := NormalizeTargetTime(targetTime)
	if err != nil {
		return err
	}
	if deviceID == "" {
		return &ValidationError{Field: "device_id", Message: "is required"}
	}

	var found *types.Entity
	for _, e := range c.registry.List("") {
		if strings.EqualFold(e.DeviceID, deviceID) && e.Platform == types.PlatformNumber {
			found = &e
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: no entities for device %s", entity.ErrNotFound, deviceID)
	}
	target, ok := c.resolve(found.EntryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, found.EntryID)
	}
	return c.setPreferences(ctx, target, *found, pct, tt)
}

func (c *Controller) setPreferences(ctx context.Context, target Target, ent types.Entity, pct int, tt string) error {
	pending := map[string]any{
		entity.UniqueID(ent.AccountNumber, entity.DeviceKey(ent.DeviceID, entity.KeyChargeTarget)): float64(pct),
		entity.UniqueID(ent.AccountNumber, entity.DeviceKey(ent.DeviceID, entity.KeyTargetTime)):   tt,
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"setting device preferences",
		slog.String("deviceID", ent.DeviceID),
		slog.Int("targetPercentage", pct),
		slog.String("targetTime", tt),
	)
	return c.apply(ctx, target, pending, func() error {
		return target.Client.SetDevicePreferences(ctx, ent.DeviceID, pct, tt)
	})
}

// ValidateTargetPercentage checks the charge target is a whole multiple of
// 5 between 20 and 100.
func ValidateTargetPercentage(v float64) (int, error) {
	if math.IsNaN(v) || v != math.Trunc(v) {
		return 0, &ValidationError{Field: "target_percentage", Message: fmt.Sprintf("%v is not a whole number", v)}
	}
	pct := int(v)
	if pct < entity.ChargeTargetMin || pct > entity.ChargeTargetMax {
		return 0, &ValidationError{Field: "target_percentage", Message: fmt.Sprintf("%d is outside [%d, %d]", pct, entity.ChargeTargetMin, entity.ChargeTargetMax)}
	}
	if pct%entity.ChargeTargetStep != 0 {
		return 0, &ValidationError{Field: "target_percentage", Message: fmt.Sprintf("%d is not a multiple of %d", pct, entity.ChargeTargetStep)}
	}
	return pct, nil
}

var targetTimeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04:05 PM",
	"3:04PM",
}

// NormalizeTargetTime parses a ready-by time and returns it as HH:MM. Times
// outside 04:00 to 17:00 are rejected.
func NormalizeTargetTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	var t time.Time
	var err error
	for _, layout := range targetTimeLayouts {
		t, err = time.Parse(layout, strings.ToUpper(s))
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", &ValidationError{Field: "target_time", Message: fmt.Sprintf("%q is not a valid time", s)}
	}
	minutes := t.Hour()*60 + t.Minute()
	if minutes < minTargetTime || minutes > maxTargetTime || (minutes == maxTargetTime && t.Second() > 0) {
		return "", &ValidationError{Field: "target_time", Message: fmt.Sprintf("%s is outside [04:00, 17:00]", t.Format("15:04"))}
	}
	return t.Format("15:04"), nil
}

package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
)

// ID is an identifier the API returns either as a string or as an integer.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Connection is a relay style list.
type Connection[T any] struct {
	Edges []struct {
		Node *T `json:"node"`
	} `json:"edges"`
}

// Nodes returns the non-nil nodes of the connection.
func (c Connection[T]) Nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		if e.Node != nil {
			nodes = append(nodes, *e.Node)
		}
	}
	return nodes
}

// Account is the account node of the account query.
type Account struct {
	ID         string         `json:"id"`
	Ledgers    []types.Ledger `json:"ledgers"`
	Properties []Property     `json:"properties"`
}

// Property groups the supply points at one address.
type Property struct {
	ID                      string        `json:"id"`
	ElectricitySupplyPoints []SupplyPoint `json:"electricitySupplyPoints"`
	GasSupplyPoints         []SupplyPoint `json:"gasSupplyPoints"`
}

// SupplyPoint is an electricity (POD) or gas (PDR) supply point.
type SupplyPoint struct {
	ID                 string                `json:"id"`
	POD                string                `json:"pod"`
	PDR                string                `json:"pdr"`
	Status             string                `json:"status"`
	EnrolmentStatus    string                `json:"enrolmentStatus"`
	EnrolmentStartDate *string               `json:"enrolmentStartDate"`
	SupplyStartDate    *string               `json:"supplyStartDate"`
	CancellationReason string                `json:"cancellationReason"`
	IsSmartMeter       *bool                 `json:"isSmartMeter"`
	Product            *Product              `json:"product"`
	Agreements         Connection[Agreement] `json:"agreements"`
}

// Identifier returns the POD or PDR.
func (sp *SupplyPoint) Identifier() string {
	if sp.POD != "" {
		return sp.POD
	}
	return sp.PDR
}

// Agreement is a contract node.
type Agreement struct {
	ID           ID       `json:"id"`
	ValidFrom    *string  `json:"validFrom"`
	ValidTo      *string  `json:"validTo"`
	AgreedAt     *string  `json:"agreedAt"`
	TerminatedAt *string  `json:"terminatedAt"`
	IsActive     bool     `json:"isActive"`
	Product      *Product `json:"product"`
}

// Product is an electricity or gas product.
type Product struct {
	Typename              string         `json:"__typename"`
	Code                  string         `json:"code"`
	Description           string         `json:"description"`
	DisplayName           string         `json:"displayName"`
	FullName              string         `json:"fullName"`
	TermsAndConditionsURL string         `json:"termsAndConditionsUrl"`
	ValidTo               *string        `json:"validTo"`
	Params                *ProductPrices `json:"params"`
	Prices                *ProductPrices `json:"prices"`
}

// ProductPrices holds either the params or the prices of a product. Values
// are in €/kWh (€/Smc for gas) and €/year for the standing charge.
type ProductPrices struct {
	ProductType               string        `json:"productType"`
	AnnualStandingCharge      *types.Number `json:"annualStandingCharge"`
	AnnualStandingChargeUnits string        `json:"annualStandingChargeUnits"`
	ConsumptionCharge         *types.Number `json:"consumptionCharge"`
	ConsumptionChargeF2       *types.Number `json:"consumptionChargeF2"`
	ConsumptionChargeF3       *types.Number `json:"consumptionChargeF3"`
	ConsumptionChargeUnits    string        `json:"consumptionChargeUnits"`
}

// CompletedDispatch is a past smart charging window.
type CompletedDispatch struct {
	Delta    *types.Number `json:"delta"`
	DeltaKWh *types.Number `json:"deltaKwh"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	StartDt  string        `json:"startDt"`
	EndDt    string        `json:"endDt"`
	Meta     *struct {
		Location string `json:"location"`
		Source   string `json:"source"`
	} `json:"meta"`
}

// FlexDispatch is a planned dispatch of a device.
type FlexDispatch struct {
	Start          string        `json:"start"`
	End            string        `json:"end"`
	EnergyAddedKWh *types.Number `json:"energyAddedKwh"`
	Type           string        `json:"type"`
	DeviceID       string        `json:"-"`
}

// AccountResponse is everything fetched for an account in one poll.
type AccountResponse struct {
	Account             *Account            `json:"account"`
	CompletedDispatches []CompletedDispatch `json:"completedDispatches"`
	Devices             []types.Device      `json:"devices"`
	PlannedDispatches   []FlexDispatch      `json:"-"`
}

// Accounts lists the accounts reachable with the current credentials.
func (c *Client) Accounts(ctx context.Context) ([]types.AccountSummary, error) {
	var res struct {
		Viewer *struct {
			Accounts []types.AccountSummary `json:"accounts"`
		} `json:"viewer"`
	}
	if err := c.Execute(ctx, "viewer", viewerAccountsQuery, nil, &res); err != nil {
		return nil, err
	}
	if res.Viewer == nil {
		return nil, &APIError{Operation: "viewer", Message: "missing viewer in response"}
	}
	return res.Viewer.Accounts, nil
}

// isNonCritical reports whether an error of the account query only means
// the account has no SmartFlex devices.
func isNonCritical(e GraphQLError) bool {
	if e.Code() != CodeNotFound {
		return false
	}
	switch e.PathRoot() {
	case "devices", "completedDispatches":
		return true
	default:
		return false
	}
}

// AccountData fetches the account, its devices and completed dispatches in
// one query, then the planned dispatches of every device. Devices that fail
// to return planned dispatches are skipped.
func (c *Client) AccountData(ctx context.Context, accountNumber string) (*AccountResponse, error) {
	resp, err := c.ExecuteRaw(ctx, "account", accountQuery, map[string]any{"accountNumber": accountNumber})
	if err != nil {
		return nil, err
	}

	var res AccountResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &res); err != nil {
			return nil, &APIError{Operation: "account", Message: "failed to decode account", Err: err}
		}
	}
	if res.Account == nil {
		if len(resp.Errors) > 0 {
			return nil, newGraphQLError("account", resp.Errors)
		}
		return nil, &APIError{Operation: "account", Message: "missing account in response"}
	}

	var nonCritical, critical []GraphQLError
	for _, e := range resp.Errors {
		if isNonCritical(e) {
			nonCritical = append(nonCritical, e)
		} else {
			critical = append(critical, e)
		}
	}
	warnKey := "nonCritical:" + accountNumber
	if len(nonCritical) > 0 {
		c.warnings.Warn(
			ctx,
			warnKey,
			"kraken returned non-critical errors, expected for accounts without devices",
			slog.String("account", accountNumber),
			slog.Any("errors", nonCritical),
		)
	} else {
		c.warnings.Reset(warnKey)
	}
	if len(critical) > 0 {
		// the account node is still usable
		log.Ctx(ctx).ErrorContext(
			ctx,
			"kraken returned errors alongside account data",
			slog.String("account", accountNumber),
			slog.Any("error", newGraphQLError("account", critical)),
		)
	}

	for _, d := range res.Devices {
		if d.ID == "" {
			continue
		}
		dispatches, err := c.PlannedDispatches(ctx, d.ID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch planned dispatches", slog.String("deviceID", d.ID), slog.Any("error", err))
			continue
		}
		res.PlannedDispatches = append(res.PlannedDispatches, dispatches...)
	}

	return &res, nil
}

// PlannedDispatches returns the upcoming dispatches of a device. Devices
// that do not support flex dispatches return an empty list.
func (c *Client) PlannedDispatches(ctx context.Context, deviceID string) ([]FlexDispatch, error) {
	resp, err := c.ExecuteRaw(ctx, "flexPlannedDispatches", flexPlannedDispatchesQuery, map[string]any{"deviceId": deviceID})
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		if resp.Errors[0].Code() == CodeNotFound {
			log.Ctx(ctx).DebugContext(ctx, "device does not support flex planned dispatches", slog.String("deviceID", deviceID))
			return []FlexDispatch{}, nil
		}
		return nil, newGraphQLError("flexPlannedDispatches", resp.Errors)
	}

	var res struct {
		FlexPlannedDispatches []FlexDispatch `json:"flexPlannedDispatches"`
	}
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return nil, &APIError{Operation: "flexPlannedDispatches", Message: "failed to decode dispatches", Err: err}
	}
	out := make([]FlexDispatch, 0, len(res.FlexPlannedDispatches))
	for _, d := range res.FlexPlannedDispatches {
		d.DeviceID = deviceID
		if d.Type == "" {
			d.Type = "UNKNOWN"
		}
		out = append(out, d)
	}
	return out, nil
}

type meterReadingNode struct {
	Value            *types.Number `json:"value"`
	ReadAt           *string       `json:"readAt"`
	RegisterObisCode string        `json:"registerObisCode"`
	RegisterType     string        `json:"registerType"`
	TypeOfRead       string        `json:"typeOfRead"`
	Origin           string        `json:"origin"`
	MeterID          ID            `json:"meterId"`
}

func (n meterReadingNode) reading() *types.MeterReading {
	return &types.MeterReading{
		MeterID:          string(n.MeterID),
		Value:            n.Value.Ptr(),
		ReadAt:           types.ParseTimePtr(n.ReadAt, types.Rome),
		RegisterObisCode: n.RegisterObisCode,
		RegisterType:     n.RegisterType,
		TypeOfRead:       n.TypeOfRead,
		Origin:           n.Origin,
	}
}

// ElectricityMeterReading returns the latest reading of an electricity
// meter, or nil if there are none.
func (c *Client) ElectricityMeterReading(ctx context.Context, accountNumber, meterID string) (*types.MeterReading, error) {
	return c.meterReading(ctx, "electricityMeterReadings", electricityMeterReadingsQuery, accountNumber, meterID)
}

// GasMeterReading returns the latest reading of a gas meter, or nil if there
// are none.
func (c *Client) GasMeterReading(ctx context.Context, accountNumber, meterID string) (*types.MeterReading, error) {
	return c.meterReading(ctx, "gasMeterReadings", gasMeterReadingsQuery, accountNumber, meterID)
}

func (c *Client) meterReading(ctx context.Context, field, query, accountNumber, meterID string) (*types.MeterReading, error) {
	var res map[string]*Connection[meterReadingNode]
	vars := map[string]any{"accountNumber": accountNumber, "meterId": meterID}
	if err := c.Execute(ctx, field, query, vars, &res); err != nil {
		return nil, err
	}
	conn := res[field]
	if conn == nil {
		return nil, nil
	}
	nodes := conn.Nodes()
	if len(nodes) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "no meter readings found", slog.String("field", field), slog.String("meterID", meterID))
		return nil, nil
	}
	return nodes[0].reading(), nil
}

// ChangeDeviceSuspension suspends or resumes smart control of a device.
func (c *Client) ChangeDeviceSuspension(ctx context.Context, deviceID, action string) (string, error) {
	switch action {
	case types.SmartControlSuspend, types.SmartControlUnsuspend:
	default:
		return "", fmt.Errorf("invalid smart control action: %q", action)
	}
	var res struct {
		UpdateDeviceSmartControl *struct {
			ID string `json:"id"`
		} `json:"updateDeviceSmartControl"`
	}
	vars := map[string]any{"deviceId": deviceID, "action": action}
	if err := c.Execute(ctx, "updateDeviceSmartControl", updateDeviceSmartControlMutation, vars, &res); err != nil {
		return "", err
	}
	if res.UpdateDeviceSmartControl == nil {
		return "", &APIError{Operation: "updateDeviceSmartControl", Message: "empty mutation result"}
	}
	return res.UpdateDeviceSmartControl.ID, nil
}

// UpdateBoostCharge starts or cancels a boost charge.
func (c *Client) UpdateBoostCharge(ctx context.Context, deviceID, action string) (string, error) {
	switch action {
	case types.BoostChargeBoost, types.BoostChargeCancel:
	default:
		return "", fmt.Errorf("invalid boost charge action: %q", action)
	}
	var res struct {
		UpdateBoostCharge *struct {
			ID string `json:"id"`
		} `json:"updateBoostCharge"`
	}
	vars := map[string]any{"deviceId": deviceID, "action": action}
	if err := c.Execute(ctx, "updateBoostCharge", updateBoostChargeMutation, vars, &res); err != nil {
		return "", err
	}
	if res.UpdateBoostCharge == nil {
		return "", &APIError{Operation: "updateBoostCharge", Message: "empty mutation result"}
	}
	return res.UpdateBoostCharge.ID, nil
}

// Weekdays in the order the API expects schedules.
var Weekdays = []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"}

// SetDevicePreferences sets the same charge target and ready-by time for
// every day of the week. targetTime must already be HH:MM.
func (c *Client) SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage int, targetTime string) error {
	if len(targetTime) != 5 || strings.Count(targetTime, ":") != 1 {
		return fmt.Errorf("target time must be HH:MM: %q", targetTime)
	}
	schedules := make([]map[string]any, 0, len(Weekdays))
	for _, day := range Weekdays {
		schedules = append(schedules, map[string]any{
			"dayOfWeek": day,
			"time":      targetTime,
			"max":       targetPercentage,
		})
	}
	input := map[string]any{
		"deviceId":  deviceID,
		"mode":      "CHARGE",
		"unit":      "PERCENTAGE",
		"schedules": schedules,
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"setting device preferences",
		slog.String("deviceID", deviceID),
		slog.Int("targetPercentage", targetPercentage),
		slog.String("targetTime", targetTime),
	)
	return c.Execute(ctx, "setDevicePreferences", setDevicePreferencesMutation, map[string]any{"input": input}, nil)
}

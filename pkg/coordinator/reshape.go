package coordinator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/types"
)

const (
	fuelElectricity = "electricity"
	fuelGas         = "gas"
)

var timeOfUseProductTypes = map[string]bool{
	"time_of_use": true,
	"timeofuse":   true,
	"tou":         true,
}

// BuildAccountData flattens the account response into the record published
// to entities.
func BuildAccountData(accountNumber string, resp *kraken.AccountResponse, now time.Time) *types.AccountData {
	data := &types.AccountData{
		AccountNumber: accountNumber,
		UpdatedAt:     now,
	}
	if resp == nil {
		return data
	}

	if resp.Account != nil {
		for _, l := range resp.Account.Ledgers {
			eur := float64(l.Balance) / 100
			switch l.LedgerType {
			case types.LedgerElectricity:
				data.ElectricityBalance = &eur
			case types.LedgerGas:
				data.GasBalance = &eur
			case types.LedgerHeat:
				data.HeatBalance = &eur
			default:
				if l.LedgerType == "" {
					continue
				}
				if data.OtherLedgers == nil {
					data.OtherLedgers = make(map[string]float64)
				}
				data.OtherLedgers[l.LedgerType] = eur
			}
		}

		var elec, gas []kraken.SupplyPoint
		for _, p := range resp.Account.Properties {
			elec = append(elec, p.ElectricitySupplyPoints...)
			gas = append(gas, p.GasSupplyPoints...)
		}
		data.Electricity = buildSupply(fuelElectricity, elec, now)
		data.Gas = buildSupply(fuelGas, gas, now)
	}

	data.Devices = resp.Devices
	for _, d := range resp.Devices {
		if d.VehicleVariant != nil && d.VehicleVariant.BatterySize != nil {
			data.VehicleBatterySizeKWh = d.VehicleVariant.BatterySize.Ptr()
			break
		}
	}

	for _, fd := range resp.PlannedDispatches {
		d, ok := plannedDispatch(fd)
		if ok {
			data.PlannedDispatches = append(data.PlannedDispatches, d)
		}
	}
	sort.Slice(data.PlannedDispatches, func(i, j int) bool {
		return data.PlannedDispatches[i].Start.Before(data.PlannedDispatches[j].Start)
	})
	for _, cd := range resp.CompletedDispatches {
		d, ok := completedDispatch(cd)
		if ok {
			data.CompletedDispatches = append(data.CompletedDispatches, d)
		}
	}
	data.CurrentDispatch, data.NextDispatch = dispatchWindows(data.PlannedDispatches, now)

	return data
}

func plannedDispatch(fd kraken.FlexDispatch) (types.Dispatch, bool) {
	start, err := types.ParseTime(fd.Start, types.Rome)
	if err != nil {
		return types.Dispatch{}, false
	}
	end, err := types.ParseTime(fd.End, types.Rome)
	if err != nil {
		return types.Dispatch{}, false
	}
	return types.Dispatch{
		Start:          start,
		End:            end,
		EnergyAddedKWh: fd.EnergyAddedKWh.Ptr(),
		Type:           fd.Type,
		DeviceID:       fd.DeviceID,
		Source:         "flex_api",
	}, true
}

func completedDispatch(cd kraken.CompletedDispatch) (types.Dispatch, bool) {
	startStr, endStr := cd.StartDt, cd.EndDt
	if startStr == "" {
		startStr = cd.Start
	}
	if endStr == "" {
		endStr = cd.End
	}
	start, err := types.ParseTime(startStr, types.Rome)
	if err != nil {
		return types.Dispatch{}, false
	}
	end, err := types.ParseTime(endStr, types.Rome)
	if err != nil {
		return types.Dispatch{}, false
	}
	d := types.Dispatch{Start: start, End: end}
	if cd.DeltaKWh != nil {
		d.EnergyAddedKWh = cd.DeltaKWh.Ptr()
	} else if cd.Delta != nil {
		d.EnergyAddedKWh = cd.Delta.Ptr()
	}
	if cd.Meta != nil {
		d.Source = cd.Meta.Source
	}
	return d, true
}

// dispatchWindows returns the dispatch active at now and the earliest one
// starting after now. dispatches must be sorted by start.
func dispatchWindows(dispatches []types.Dispatch, now time.Time) (current, next *types.Dispatch) {
	for i := range dispatches {
		d := dispatches[i]
		if current == nil && d.ActiveAt(now) {
			current = &d
			continue
		}
		if next == nil && d.Start.After(now) {
			next = &d
		}
	}
	return current, next
}

func buildSupply(fuel string, points []kraken.SupplyPoint, now time.Time) *types.Supply {
	if len(points) == 0 {
		return nil
	}
	primary := points[0]
	s := &types.Supply{
		SupplyPoint: types.SupplyPoint{
			ID:                 primary.ID,
			Identifier:         primary.Identifier(),
			Status:             primary.Status,
			EnrolmentStatus:    primary.EnrolmentStatus,
			EnrolmentStartDate: types.ParseTimePtr(primary.EnrolmentStartDate, types.Rome),
			SupplyStartDate:    types.ParseTimePtr(primary.SupplyStartDate, types.Rome),
			IsSmartMeter:       primary.IsSmartMeter,
			CancellationReason: primary.CancellationReason,
		},
	}

	seen := make(map[string]bool)
	for _, sp := range points {
		agreements := sp.Agreements.Nodes()
		if len(agreements) == 0 {
			if p, ok := buildProduct(fuel, sp, nil); ok {
				s.Products = appendUnique(s.Products, seen, p)
			}
			continue
		}
		for i := range agreements {
			if p, ok := buildProduct(fuel, sp, &agreements[i]); ok {
				s.Products = appendUnique(s.Products, seen, p)
			}
		}
	}
	for _, a := range primary.Agreements.Nodes() {
		s.Agreements = append(s.Agreements, buildAgreement(a))
	}

	s.CurrentProduct = types.CurrentProduct(s.Products, now)
	if s.CurrentProduct == nil {
		// supply point products have no validity window
		for _, p := range s.Products {
			if p.ValidFrom == nil && p.AgreementID == "" {
				c := p
				s.CurrentProduct = &c
				break
			}
		}
	}
	if cp := s.CurrentProduct; cp != nil {
		s.Price, _ = cp.RateAt(now)
		s.AnnualStandingCharge = cp.Pricing.AnnualStandingCharge
		s.AnnualStandingChargeUnits = cp.Pricing.AnnualStandingChargeUnits
		s.TermsURL = cp.TermsURL
		s.ContractStart = cp.ValidFrom
		s.ContractEnd = cp.ValidTo
		if cp.ValidTo != nil {
			days := daysUntil(now, *cp.ValidTo)
			s.ContractDaysUntilExpiry = &days
		}
	}
	return s
}

// daysUntil counts calendar days in Rome between now and t, never negative.
func daysUntil(now, t time.Time) int {
	y1, m1, d1 := now.In(types.Rome).Date()
	y2, m2, d2 := t.In(types.Rome).Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	days := int(math.Round(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func productKey(p types.Product) string {
	var from, to string
	if p.ValidFrom != nil {
		from = p.ValidFrom.Format(time.RFC3339)
	}
	if p.ValidTo != nil {
		to = p.ValidTo.Format(time.RFC3339)
	}
	return strings.Join([]string{p.Code, from, to, p.AgreementID, p.SupplyPointID}, "|")
}

func appendUnique(products []types.Product, seen map[string]bool, p types.Product) []types.Product {
	key := productKey(p)
	if seen[key] {
		return products
	}
	seen[key] = true
	return append(products, p)
}

func buildAgreement(a kraken.Agreement) types.Agreement {
	out := types.Agreement{
		ID:           string(a.ID),
		ValidFrom:    types.ParseTimePtr(a.ValidFrom, types.Rome),
		ValidTo:      types.ParseTimePtr(a.ValidTo, types.Rome),
		AgreedAt:     types.ParseTimePtr(a.AgreedAt, types.Rome),
		TerminatedAt: types.ParseTimePtr(a.TerminatedAt, types.Rome),
		IsActive:     a.IsActive,
	}
	if a.Product != nil {
		out.ProductCode = a.Product.Code
		out.ProductName = a.Product.DisplayName
		if out.ProductName == "" {
			out.ProductName = a.Product.FullName
		}
	}
	return out
}

// pick returns the value from prices, falling back to params.
func pick[V any](prices, params *kraken.ProductPrices, get func(*kraken.ProductPrices) V, empty func(V) bool) V {
	if prices != nil {
		if v := get(prices); !empty(v) {
			return v
		}
	}
	if params != nil {
		return get(params)
	}
	var zero V
	return zero
}

func pickNumber(prices, params *kraken.ProductPrices, get func(*kraken.ProductPrices) *types.Number) *float64 {
	return pick(prices, params, get, func(n *types.Number) bool { return n == nil }).Ptr()
}

func pickString(prices, params *kraken.ProductPrices, get func(*kraken.ProductPrices) string) string {
	return pick(prices, params, get, func(s string) bool { return s == "" })
}

func buildProduct(fuel string, sp kraken.SupplyPoint, agreement *kraken.Agreement) (types.Product, bool) {
	src := sp.Product
	var out types.Product
	if agreement != nil {
		src = agreement.Product
		out.ValidFrom = types.ParseTimePtr(agreement.ValidFrom, types.Rome)
		out.ValidTo = types.ParseTimePtr(agreement.ValidTo, types.Rome)
		out.AgreementID = string(agreement.ID)
	}
	if src == nil {
		return types.Product{}, false
	}

	prices, params := src.Prices, src.Params
	out.Code = src.Code
	out.Description = src.Description
	out.DisplayName = src.DisplayName
	out.Name = src.FullName
	if out.Name == "" {
		out.Name = src.DisplayName
	}
	out.SupplyPointID = sp.ID
	out.TermsURL = src.TermsAndConditionsURL
	out.Pricing = types.Pricing{
		Base:                      pickNumber(prices, params, func(p *kraken.ProductPrices) *types.Number { return p.ConsumptionCharge }),
		AnnualStandingCharge:      pickNumber(prices, params, func(p *kraken.ProductPrices) *types.Number { return p.AnnualStandingCharge }),
		Units:                     pickString(prices, params, func(p *kraken.ProductPrices) string { return p.ConsumptionChargeUnits }),
		AnnualStandingChargeUnits: pickString(prices, params, func(p *kraken.ProductPrices) string { return p.AnnualStandingChargeUnits }),
	}

	if params != nil && params.ProductType != "" {
		out.ProductType = params.ProductType
	} else if prices != nil {
		out.ProductType = prices.ProductType
	}

	out.Type = types.ProductTypeSimple
	if fuel == fuelElectricity {
		out.Pricing.F2 = pickNumber(prices, params, func(p *kraken.ProductPrices) *types.Number { return p.ConsumptionChargeF2 })
		out.Pricing.F3 = pickNumber(prices, params, func(p *kraken.ProductPrices) *types.Number { return p.ConsumptionChargeF3 })
		out.IsTimeOfUse = out.Pricing.F2 != nil || out.Pricing.F3 != nil ||
			timeOfUseProductTypes[strings.ToLower(out.ProductType)]
		if out.IsTimeOfUse {
			out.Type = types.ProductTypeTimeOfUse
		}
	}
	out.GrossRate = grossRate(out.Pricing.Base)
	return out, true
}

// grossRate formats a €/kWh rate as cents with trailing zeros trimmed.
func grossRate(eur *float64) string {
	if eur == nil {
		return "0"
	}
	s := fmt.Sprintf("%.6f", *eur*100)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}

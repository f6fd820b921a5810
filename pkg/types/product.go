package types

import (
	"time"
)

// Product types.
const (
	ProductTypeSimple    = "Simple"
	ProductTypeTimeOfUse = "TimeOfUse"
)

// Italian time-of-use bands.
const (
	BandF1 = "F1"
	BandF2 = "F2"
	BandF3 = "F3"
)

// Pricing holds the rates of a product. Rates are in €/kWh (€/Smc for gas).
type Pricing struct {
	Base                      *float64 `json:"base,omitempty"`
	F2                        *float64 `json:"f2,omitempty"`
	F3                        *float64 `json:"f3,omitempty"`
	Units                     string   `json:"units,omitempty"`
	AnnualStandingCharge      *float64 `json:"annualStandingCharge,omitempty"`
	AnnualStandingChargeUnits string   `json:"annualStandingChargeUnits,omitempty"`
}

// Product is a tariff attached to a supply point, either via an agreement or
// directly.
type Product struct {
	Code          string     `json:"code"`
	Name          string     `json:"name,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	Description   string     `json:"description,omitempty"`
	ProductType   string     `json:"productType,omitempty"`
	Type          string     `json:"type"`
	IsTimeOfUse   bool       `json:"isTimeOfUse"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidTo       *time.Time `json:"validTo,omitempty"`
	AgreementID   string     `json:"agreementId,omitempty"`
	SupplyPointID string     `json:"supplyPointId,omitempty"`
	TermsURL      string     `json:"termsURL,omitempty"`
	Pricing       Pricing    `json:"pricing"`
	// GrossRate is the base rate in cents as a trimmed decimal string.
	GrossRate string `json:"grossRate"`
}

// Label returns the most human friendly name available.
func (p *Product) Label() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Name != "":
		return p.Name
	default:
		return p.Code
	}
}

// ValidAt reports whether the product has started and not ended at t.
// Products without a start date are never considered valid.
func (p *Product) ValidAt(t time.Time) bool {
	if p.ValidFrom == nil || p.ValidFrom.After(t) {
		return false
	}
	return p.ValidTo == nil || !p.ValidTo.Before(t)
}

// CurrentProduct returns the valid product at t with the latest start, or
// nil if none is valid.
func CurrentProduct(products []Product, t time.Time) *Product {
	var current *Product
	for i := range products {
		p := &products[i]
		if !p.ValidAt(t) {
			continue
		}
		if current == nil || p.ValidFrom.After(*current.ValidFrom) {
			current = p
		}
	}
	if current == nil {
		return nil
	}
	c := *current
	return &c
}

// TimeOfUseBand approximates the Italian F1/F2/F3 band for t in local time.
// Public holidays are not taken into account.
func TimeOfUseBand(t time.Time) string {
	t = t.In(Rome)
	minutes := t.Hour()*60 + t.Minute()
	switch t.Weekday() {
	case time.Saturday:
		if minutes >= 7*60 && minutes < 23*60 {
			return BandF2
		}
		return BandF3
	case time.Sunday:
		return BandF3
	default:
		switch {
		case minutes >= 8*60 && minutes < 19*60:
			return BandF1
		case minutes >= 7*60 && minutes < 8*60, minutes >= 19*60 && minutes < 23*60:
			return BandF2
		default:
			return BandF3
		}
	}
}

// RateAt returns the applicable consumption rate at t and the band it was
// picked from. Simple products always return the base rate.
func (p *Product) RateAt(t time.Time) (*float64, string) {
	pr := p.Pricing
	if !p.IsTimeOfUse {
		return pr.Base, ""
	}
	band := TimeOfUseBand(t)
	switch band {
	case BandF1:
		return pr.Base, band
	case BandF2:
		return firstNonNil(pr.F2, pr.Base), band
	default:
		return firstNonNil(pr.F3, pr.F2, pr.Base), band
	}
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// PublicProduct is a tariff advertised on the public price list.
type PublicProduct struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Fuel is "electricity" or "gas".
	Fuel           string   `json:"fuel"`
	IsTimeOfUse    bool     `json:"isTimeOfUse"`
	UnitRate       *float64 `json:"unitRate,omitempty"`
	UnitRateF2     *float64 `json:"unitRateF2,omitempty"`
	UnitRateF3     *float64 `json:"unitRateF3,omitempty"`
	UnitRateUnits  string   `json:"unitRateUnits,omitempty"`
	StandingCharge *float64 `json:"standingCharge,omitempty"`
	StandingUnits  string   `json:"standingUnits,omitempty"`
	TermsURL       string   `json:"termsURL,omitempty"`
}

// PublicProducts is a snapshot of the public price list.
type PublicProducts struct {
	Products  []PublicProduct `json:"products"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

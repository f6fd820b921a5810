package types

import (
	"strings"
	"time"
)

// Ledger types with dedicated balance fields on AccountData.
const (
	LedgerElectricity = "ELECTRICITY_LEDGER"
	LedgerGas         = "GAS_LEDGER"
	LedgerHeat        = "HEAT_LEDGER"
)

// LedgerDisplayName turns "POWER_BANK_LEDGER" into "Power Bank".
func LedgerDisplayName(ledgerType string) string {
	name := strings.ReplaceAll(strings.ReplaceAll(ledgerType, "_LEDGER", ""), "_", " ")
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// AccountSummary is a single account returned by account discovery.
type AccountSummary struct {
	Number  string   `json:"number"`
	Ledgers []Ledger `json:"ledgers"`
}

// Ledger is an account sub-balance. Balance is in euro cents.
type Ledger struct {
	LedgerType string `json:"ledgerType"`
	Balance    Number `json:"balance"`
}

// SupplyPoint describes an electricity (POD) or gas (PDR) supply point.
type SupplyPoint struct {
	ID                 string     `json:"id"`
	Identifier         string     `json:"identifier"`
	Status             string     `json:"status,omitempty"`
	EnrolmentStatus    string     `json:"enrolmentStatus,omitempty"`
	EnrolmentStartDate *time.Time `json:"enrolmentStartDate,omitempty"`
	SupplyStartDate    *time.Time `json:"supplyStartDate,omitempty"`
	IsSmartMeter       *bool      `json:"isSmartMeter,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
}

// Agreement is a contract between the account and a product on a supply
// point.
type Agreement struct {
	ID           string     `json:"id"`
	ProductCode  string     `json:"productCode,omitempty"`
	ProductName  string     `json:"productName,omitempty"`
	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidTo      *time.Time `json:"validTo,omitempty"`
	AgreedAt     *time.Time `json:"agreedAt,omitempty"`
	TerminatedAt *time.Time `json:"terminatedAt,omitempty"`
	IsActive     bool       `json:"isActive"`
}

// MeterReading is the latest register reading for a meter.
type MeterReading struct {
	MeterID          string     `json:"meterId,omitempty"`
	Value            *float64   `json:"value,omitempty"`
	ReadAt           *time.Time `json:"readAt,omitempty"`
	RegisterObisCode string     `json:"registerObisCode,omitempty"`
	RegisterType     string     `json:"registerType,omitempty"`
	TypeOfRead       string     `json:"typeOfRead,omitempty"`
	Origin           string     `json:"origin,omitempty"`
}

// Supply is the flattened view of one fuel (electricity or gas) for an
// account.
type Supply struct {
	SupplyPoint    SupplyPoint   `json:"supplyPoint"`
	Products       []Product     `json:"products"`
	CurrentProduct *Product      `json:"currentProduct,omitempty"`
	Agreements     []Agreement   `json:"agreements,omitempty"`
	LatestReading  *MeterReading `json:"latestReading,omitempty"`

	// Price is the base consumption rate of the current product in €/kWh
	// (or €/Smc for gas).
	Price                     *float64 `json:"price,omitempty"`
	AnnualStandingCharge      *float64 `json:"annualStandingCharge,omitempty"`
	AnnualStandingChargeUnits string   `json:"annualStandingChargeUnits,omitempty"`
	TermsURL                  string   `json:"termsURL,omitempty"`

	ContractStart           *time.Time `json:"contractStart,omitempty"`
	ContractEnd             *time.Time `json:"contractEnd,omitempty"`
	ContractDaysUntilExpiry *int       `json:"contractDaysUntilExpiry,omitempty"`
}

// ActiveAgreements returns how many agreements are flagged active.
func (s *Supply) ActiveAgreements() int {
	var n int
	for _, a := range s.Agreements {
		if a.IsActive {
			n++
		}
	}
	return n
}

// AccountData is the flattened per-account record published to entities
// after each poll.
type AccountData struct {
	AccountNumber string    `json:"accountNumber"`
	UpdatedAt     time.Time `json:"updatedAt"`
	// Stale is set when the latest poll for this account failed and the
	// values are carried over from an earlier poll.
	Stale bool `json:"stale,omitempty"`

	ElectricityBalance *float64           `json:"electricityBalance,omitempty"`
	GasBalance         *float64           `json:"gasBalance,omitempty"`
	HeatBalance        *float64           `json:"heatBalance,omitempty"`
	OtherLedgers       map[string]float64 `json:"otherLedgers,omitempty"`

	Electricity *Supply `json:"electricity,omitempty"`
	Gas         *Supply `json:"gas,omitempty"`

	Devices             []Device   `json:"devices,omitempty"`
	PlannedDispatches   []Dispatch `json:"plannedDispatches,omitempty"`
	CompletedDispatches []Dispatch `json:"completedDispatches,omitempty"`

	CurrentDispatch *Dispatch `json:"currentDispatch,omitempty"`
	NextDispatch    *Dispatch `json:"nextDispatch,omitempty"`

	VehicleBatterySizeKWh *float64 `json:"vehicleBatterySizeKWh,omitempty"`
}

// Device returns the device with the given ID.
func (a *AccountData) Device(id string) (Device, bool) {
	for _, d := range a.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Snapshot is an immutable view of every account under a config entry.
type Snapshot struct {
	Accounts  map[string]*AccountData `json:"accounts"`
	FetchedAt time.Time               `json:"fetchedAt"`
}

// Account returns the data for the given account, or nil.
func (s *Snapshot) Account(number string) *AccountData {
	if s == nil {
		return nil
	}
	return s.Accounts[number]
}

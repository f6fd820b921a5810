package entity

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/types"
)

// ErrNotFound is returned for unknown entities.
var ErrNotFound = errors.New("entity not found")

// PublicEntryID is the entry id of the public tariff entities.
const PublicEntryID = "public"

type record struct {
	uniqueID string
	account  string
	def      Definition
	// public tariff entities only
	fuel, code string
}

type entryState struct {
	snap        *types.Snapshot
	public      *types.PublicProducts
	lastSuccess bool
	order       []string
	records     map[string]*record
	disabled    map[string]bool
	states      map[string]types.Entity
}

// Registry creates entities from coordinator snapshots and keeps their
// published state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entryState
	byID    map[string]string
	pending *Pending
	now     func() time.Time
}

// Configured sets up the Registry from flags.
func Configured() *Registry {
	r := NewRegistry(0)
	timeout := lflag.Duration("pending-timeout", 2*time.Minute, "How long a control value stays pending without being confirmed")
	lflag.Do(func() {
		r.pending.timeout = *timeout
	})
	return r
}

// NewRegistry returns an empty Registry. pendingTimeout of 0 keeps pending
// values until confirmed or cleared.
func NewRegistry(pendingTimeout time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entryState),
		byID:    make(map[string]string),
		pending: NewPending(pendingTimeout),
		now:     time.Now,
	}
}

// AddEntry registers a config entry. Entities are created from its
// snapshots.
func (r *Registry) AddEntry(entryID string, disabled []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entryID]; ok {
		return
	}
	e := &entryState{
		records:  make(map[string]*record),
		disabled: make(map[string]bool, len(disabled)),
		states:   make(map[string]types.Entity),
	}
	for _, id := range disabled {
		e.disabled[id] = true
	}
	r.entries[entryID] = e
}

// RemoveEntry tears down every entity of the entry.
func (r *Registry) RemoveEntry(entryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entryID]
	if !ok {
		return
	}
	for _, id := range e.order {
		delete(r.byID, id)
		r.pending.Clear(id)
	}
	delete(r.entries, entryID)
}

// UpdateEntry publishes a new account snapshot. lastSuccess is false when
// the latest poll failed and snap is the previous one. Accounts and devices
// that show up in a later snapshot get their entities then, existing ones
// are never removed.
func (r *Registry) UpdateEntry(entryID string, snap *types.Snapshot, lastSuccess bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entryID]
	if !ok {
		return
	}
	e.snap = snap
	e.lastSuccess = lastSuccess
	if snap != nil {
		r.createAccountEntities(entryID, e, snap)
	}
	r.recompute(entryID, e)
}

// UpdatePublic publishes a new public tariff snapshot. New products get
// entities, known ones are never removed.
func (r *Registry) UpdatePublic(products *types.PublicProducts, lastSuccess bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[PublicEntryID]
	if !ok {
		e = &entryState{
			records:  make(map[string]*record),
			disabled: make(map[string]bool),
			states:   make(map[string]types.Entity),
		}
		r.entries[PublicEntryID] = e
	}
	e.public = products
	e.lastSuccess = lastSuccess
	if products != nil {
		for _, p := range products.Products {
			key := "public_" + p.Fuel + "_" + strings.ToLower(p.Code)
			id := "octopus_" + key
			if _, ok := e.records[id]; ok {
				continue
			}
			e.records[id] = &record{
				uniqueID: id,
				fuel:     p.Fuel,
				code:     p.Code,
				def:      publicDefinition(key, p),
			}
			e.order = append(e.order, id)
			r.byID[id] = PublicEntryID
		}
	}
	r.recompute(PublicEntryID, e)
}

func (r *Registry) createAccountEntities(entryID string, e *entryState, snap *types.Snapshot) {
	accounts := make([]string, 0, len(snap.Accounts))
	for acct := range snap.Accounts {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	for _, acct := range accounts {
		data := snap.Accounts[acct]
		if data == nil {
			continue
		}
		for _, def := range AccountDefinitions(data) {
			id := UniqueID(acct, def.Key)
			if _, ok := e.records[id]; ok {
				continue
			}
			e.records[id] = &record{uniqueID: id, account: acct, def: def}
			e.order = append(e.order, id)
			r.byID[id] = entryID
		}
	}
}

func (r *Registry) recompute(entryID string, e *entryState) {
	now := r.now()
	for _, id := range e.order {
		e.states[id] = r.compute(entryID, e, e.records[id], now)
	}
}

func (r *Registry) compute(entryID string, e *entryState, rec *record, now time.Time) types.Entity {
	def := rec.def
	ent := types.Entity{
		UniqueID:      rec.uniqueID,
		EntryID:       entryID,
		AccountNumber: rec.account,
		DeviceID:      def.DeviceID,
		Key:           def.Key,
		Platform:      def.Platform,
		DeviceClass:   def.DeviceClass,
		StateClass:    def.StateClass,
		Unit:          def.Unit,
		Options:       def.Options,
		Min:           def.Min,
		Max:           def.Max,
		Step:          def.Step,
		Enabled:       !e.disabled[rec.uniqueID],
		Stale:         !e.lastSuccess,
		UpdatedAt:     now,
	}
	if rec.account != "" {
		ent.Name = "Octopus " + rec.account + " " + def.Name
	} else {
		ent.Name = "Octopus " + def.Name
	}
	if !ent.Enabled {
		return ent
	}

	if rec.code != "" {
		r.computePublic(&ent, e.public, rec)
		return ent
	}

	a := e.snap.Account(rec.account)
	if a == nil {
		return ent
	}
	if a.Stale {
		ent.Stale = true
	}
	if def.UnitFunc != nil {
		if u := def.UnitFunc(a); u != "" {
			ent.Unit = u
		}
	}

	value, known := def.Value(a, now)
	attrs := map[string]any{"account_number": rec.account}
	if def.Attributes != nil {
		maps.Copy(attrs, def.Attributes(a, now))
	}
	attrs["last_updated"] = a.UpdatedAt.Format(time.RFC3339)

	ent.State = value
	ent.Available = known
	if isControl(def.Platform) {
		if v, pending := r.pending.Resolve(rec.uniqueID, value, known); pending {
			ent.State = v
			ent.Pending = true
			ent.Available = true
		}
	}
	attrs["pending"] = ent.Pending
	attrs["stale"] = ent.Stale
	ent.Attributes = attrs
	return ent
}

func (r *Registry) computePublic(ent *types.Entity, products *types.PublicProducts, rec *record) {
	if products == nil {
		return
	}
	for _, p := range products.Products {
		if p.Fuel != rec.fuel || p.Code != rec.code {
			continue
		}
		if p.UnitRate != nil {
			ent.State = *p.UnitRate
			ent.Available = true
		}
		if p.UnitRateUnits != "" {
			ent.Unit = p.UnitRateUnits
		}
		ent.Attributes = map[string]any{
			"code":                  p.Code,
			"name":                  p.Name,
			"description":           p.Description,
			"fuel":                  p.Fuel,
			"is_time_of_use":        p.IsTimeOfUse,
			"unit_rate_f2":          floatAttr(p.UnitRateF2),
			"unit_rate_f3":          floatAttr(p.UnitRateF3),
			"standing_charge":       floatAttr(p.StandingCharge),
			"standing_charge_units": p.StandingUnits,
			"terms_url":             p.TermsURL,
			"fetched_at":            products.FetchedAt.Format(time.RFC3339),
			"stale":                 ent.Stale,
		}
		return
	}
}

func publicDefinition(key string, p types.PublicProduct) Definition {
	unit := "€/kWh"
	if p.Fuel == "gas" {
		unit = "€/Smc"
	}
	return Definition{
		Key:         key,
		Platform:    types.PlatformSensor,
		Name:        "Public Tariff " + p.Name,
		DeviceClass: ClassMonetary,
		StateClass:  StateMeasurement,
		Unit:        unit,
	}
}

func isControl(p types.Platform) bool {
	switch p {
	case types.PlatformSwitch, types.PlatformNumber, types.PlatformSelect:
		return true
	default:
		return false
	}
}

// Get returns the published state of an entity.
func (r *Registry) Get(uniqueID string) (types.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entryID, ok := r.byID[uniqueID]
	if !ok {
		return types.Entity{}, false
	}
	ent, ok := r.entries[entryID].states[uniqueID]
	return ent, ok
}

// List returns the entities of an entry in creation order, or of every
// entry when entryID is empty.
func (r *Registry) List(entryID string) []types.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		if entryID == "" || id == entryID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var out []types.Entity
	for _, id := range ids {
		e := r.entries[id]
		for _, uid := range e.order {
			out = append(out, e.states[uid])
		}
	}
	return out
}

// SetEnabled enables or disables an entity and returns its entry id.
func (r *Registry) SetEnabled(uniqueID string, enabled bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entryID, ok := r.byID[uniqueID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, uniqueID)
	}
	e := r.entries[entryID]
	if enabled {
		delete(e.disabled, uniqueID)
	} else {
		e.disabled[uniqueID] = true
	}
	e.states[uniqueID] = r.compute(entryID, e, e.records[uniqueID], r.now())
	return entryID, nil
}

// Disabled returns the disabled entity ids of an entry.
func (r *Registry) Disabled(entryID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entryID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.disabled))
	for id := range e.disabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetPending publishes value as the pending state of a control entity.
func (r *Registry) SetPending(uniqueID string, value any) error {
	return r.updatePending(uniqueID, func() { r.pending.Set(uniqueID, value) })
}

// ClearPending drops the pending state of a control entity, used when the
// mutation failed.
func (r *Registry) ClearPending(uniqueID string) error {
	return r.updatePending(uniqueID, func() { r.pending.Clear(uniqueID) })
}

func (r *Registry) updatePending(uniqueID string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entryID, ok := r.byID[uniqueID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uniqueID)
	}
	fn()
	e := r.entries[entryID]
	e.states[uniqueID] = r.compute(entryID, e, e.records[uniqueID], r.now())
	return nil
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
)

// AccountSource is the subset of the Kraken client used to poll accounts.
type AccountSource interface {
	AccountData(ctx context.Context, accountNumber string) (*kraken.AccountResponse, error)
	ElectricityMeterReading(ctx context.Context, accountNumber, meterID string) (*types.MeterReading, error)
	GasMeterReading(ctx context.Context, accountNumber, meterID string) (*types.MeterReading, error)
}

// AccountFetcher builds a Snapshot of every account of a config entry.
type AccountFetcher struct {
	source   AccountSource
	accounts []string
	warnings *log.Deduper
	now      func() time.Time
}

// NewAccountFetcher returns a fetcher for the given accounts.
func NewAccountFetcher(source AccountSource, accounts []string) *AccountFetcher {
	return &AccountFetcher{
		source:   source,
		accounts: accounts,
		warnings: log.NewDeduper(),
		now:      time.Now,
	}
}

// NewAccountCoordinator returns a Coordinator polling the given accounts.
func NewAccountCoordinator(name string, interval time.Duration, source AccountSource, accounts []string) *Coordinator[types.Snapshot] {
	f := NewAccountFetcher(source, accounts)
	return New(Options{Name: name, Interval: interval}, f.Fetch)
}

// Fetch implements FetchFunc. An account that fails keeps its previous data
// marked stale. The fetch only fails when every account failed.
func (f *AccountFetcher) Fetch(ctx context.Context, prev *types.Snapshot) (*types.Snapshot, error) {
	now := f.now()
	snap := &types.Snapshot{
		Accounts:  make(map[string]*types.AccountData, len(f.accounts)),
		FetchedAt: now,
	}

	var errs []error
	for _, acct := range f.accounts {
		key := "account:" + acct
		data, err := f.fetchAccount(ctx, acct, prev.Account(acct), now)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", acct, err))
			f.warnings.Warn(
				ctx,
				key,
				"failed to fetch account data",
				slog.String("account", acct),
				slog.Any("error", err),
			)
			if old := prev.Account(acct); old != nil {
				stale := *old
				stale.Stale = true
				snap.Accounts[acct] = &stale
			}
			continue
		}
		if f.warnings.Reset(key) {
			log.Ctx(ctx).InfoContext(ctx, "account data fetched again", slog.String("account", acct))
		}
		snap.Accounts[acct] = data
	}

	if len(f.accounts) > 0 && len(errs) == len(f.accounts) {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

func (f *AccountFetcher) fetchAccount(ctx context.Context, acct string, prev *types.AccountData, now time.Time) (*types.AccountData, error) {
	resp, err := f.source.AccountData(ctx, acct)
	if err != nil {
		return nil, err
	}
	data := BuildAccountData(acct, resp, now)

	if s := data.Electricity; s != nil && s.SupplyPoint.ID != "" {
		s.LatestReading = f.reading(ctx, acct, s.SupplyPoint.ID, f.source.ElectricityMeterReading, previousReading(prev, fuelElectricity))
	}
	if s := data.Gas; s != nil && s.SupplyPoint.ID != "" {
		s.LatestReading = f.reading(ctx, acct, s.SupplyPoint.ID, f.source.GasMeterReading, previousReading(prev, fuelGas))
	}
	return data, nil
}

type readingFunc func(ctx context.Context, accountNumber, meterID string) (*types.MeterReading, error)

// reading fetches a meter reading, keeping prev when the request fails.
func (f *AccountFetcher) reading(ctx context.Context, acct, meterID string, fn readingFunc, prev *types.MeterReading) *types.MeterReading {
	r, err := fn(ctx, acct, meterID)
	if err != nil {
		log.Ctx(ctx).DebugContext(
			ctx,
			"failed to fetch meter reading",
			slog.String("account", acct),
			slog.String("meterID", meterID),
			slog.Any("error", err),
		)
		return prev
	}
	return r
}

func previousReading(prev *types.AccountData, fuel string) *types.MeterReading {
	if prev == nil {
		return nil
	}
	s := prev.Electricity
	if fuel == fuelGas {
		s = prev.Gas
	}
	if s == nil {
		return nil
	}
	return s.LatestReading
}

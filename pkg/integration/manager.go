package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/control"
	"github.com/octoit/octoit/pkg/coordinator"
	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/storage"
	"github.com/octoit/octoit/pkg/tariffs"
	"github.com/octoit/octoit/pkg/types"
)

// Config flow errors, named after the form errors shown to the user.
var (
	ErrInvalidAuth       = errors.New("invalid_auth")
	ErrCannotConnect     = errors.New("cannot_connect")
	ErrAlreadyConfigured = errors.New("already_configured")
	ErrNoAccounts        = errors.New("no_accounts")
	ErrEntryNotLoaded    = errors.New("entry not loaded")
)

// Client is the subset of the Kraken client an entry needs.
type Client interface {
	coordinator.AccountSource
	control.Mutator
	Authenticate(ctx context.Context, email, password string) (kraken.Token, error)
	Accounts(ctx context.Context) ([]types.AccountSummary, error)
}

// ClientProvider hands out one client per entry.
type ClientProvider interface {
	Entry(entryID string) Client
	NewClient() Client
	Remove(entryID string)
}

type krakenClients struct {
	m *kraken.Map
}

func (k krakenClients) Entry(entryID string) Client { return k.m.Entry(entryID) }
func (k krakenClients) NewClient() Client { return k.m.NewClient() }
func (k krakenClients) Remove(entryID string) { k.m.Remove(entryID) }

// KrakenClients adapts a kraken.Map to a ClientProvider.
func KrakenClients(m *kraken.Map) ClientProvider {
	return krakenClients{m: m}
}

// EntryState is the lifecycle state of an entry.
type EntryState string

const (
	StateNotLoaded  EntryState = "not_loaded"
	StateLoaded     EntryState = "loaded"
	StateSetupRetry EntryState = "setup_retry"
	StateAuthFailed EntryState = "auth_failed"
)

// EntryStatus describes an entry for the API.
type EntryStatus struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Email             string     `json:"email"`
	AccountNumbers    []string   `json:"accountNumbers"`
	PublicTariffs     bool       `json:"publicTariffs"`
	State             EntryState `json:"state"`
	Error             string     `json:"error,omitempty"`
	LastUpdateSuccess bool       `json:"lastUpdateSuccess"`
	LastSuccessAt     time.Time  `json:"lastSuccessAt,omitzero"`
}

// CoordinatorHealth is the refresh state of a coordinator.
type CoordinatorHealth struct {
	Name              string
	EntryID           string
	LastUpdateSuccess bool
	LastSuccessAt     time.Time
}

type managed struct {
	entry types.Entry
	state EntryState
	err   error

	client         Client
	coord          *coordinator.Coordinator[types.Snapshot]
	removeListener func()
	cancel         context.CancelFunc
	done           chan struct{}
	public         bool
}

// stop cancels the entry loops and waits for them.
func (e *managed) stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
	if e.removeListener != nil {
		e.removeListener()
	}
	e.cancel, e.done, e.removeListener = nil, nil, nil
}

// Manager owns the lifecycle of config entries: setup, unload, reload and
// the shared public tariff coordinator.
type Manager struct {
	storage  storage.Database
	clients  ClientProvider
	registry *entity.Registry
	tariffs  *tariffs.Source

	pollInterval  time.Duration
	setupRetry    time.Duration
	encryptionKey string

	// opMu serializes lifecycle operations, mu guards the maps below.
	opMu    sync.Mutex
	mu      sync.RWMutex
	entries map[string]*managed

	public       *coordinator.Coordinator[types.PublicProducts]
	publicUsers  int
	publicCancel context.CancelFunc
	publicDone   chan struct{}
	publicRemove func()

	savedMu     sync.Mutex
	lastSavedAt time.Time

	baseCtx context.Context
	now     func() time.Time
	newID   func() string
}

// Options configures a Manager.
type Options struct {
	PollInterval       time.Duration
	SetupRetryInterval time.Duration
	EncryptionKey      string
}

// New returns a Manager. Start must be called before use.
func New(db storage.Database, clients ClientProvider, registry *entity.Registry, source *tariffs.Source, opts Options) *Manager {
	m := &Manager{
		storage:  db,
		clients:  clients,
		registry: registry,
		tariffs:  source,
		entries:  make(map[string]*managed),
		baseCtx:  context.Background(),
		now:      time.Now,
		newID:    randomID,
	}
	m.applyOptions(opts)
	return m
}

func (m *Manager) applyOptions(opts Options) {
	m.pollInterval = opts.PollInterval
	if m.pollInterval <= 0 {
		m.pollInterval = time.Minute
	}
	m.setupRetry = opts.SetupRetryInterval
	m.encryptionKey = opts.EncryptionKey
}

// Configured sets up the Manager from flags.
func Configured(db storage.Database, clients *kraken.Map, registry *entity.Registry, source *tariffs.Source) *Manager {
	m := New(db, KrakenClients(clients), registry, source, Options{})

	pollInterval := lflag.Duration("account-poll-interval", time.Minute, "How often every account is polled")
	setupRetry := lflag.Duration("setup-retry-interval", time.Minute, "How long to wait before retrying an entry that failed to set up (0 disables)")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")

	lflag.Do(func() {
		if len(*encryptionKey) != 32 {
			log.Ctx(context.Background()).Error("credentials-encryption-key must be 32 characters")
			os.Exit(1)
		}
		m.applyOptions(Options{
			PollInterval:       *pollInterval,
			SetupRetryInterval: *setupRetry,
			EncryptionKey:      *encryptionKey,
		})
	})

	return m
}

func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// Start loads and sets up every stored entry. Entries that fail are kept
// with their error and retried in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.baseCtx = context.WithoutCancel(ctx)

	stored, err := m.storage.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, se := range stored {
		entry, err := m.migrate(ctx, se.Entry, se.Version)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate entry", slog.String("entryID", se.Entry.ID), slog.Any("error", err))
			continue
		}
		if err := m.Setup(ctx, entry); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to set up entry", slog.String("entryID", entry.ID), slog.Any("error", err))
		}
	}
	return nil
}

// migrate brings a stored entry to the current version and saves it if it
// changed.
func (m *Manager) migrate(ctx context.Context, entry types.Entry, version int) (types.Entry, error) {
	migrated, changed, err := types.MigrateEntry(entry, version)
	if err != nil {
		return entry, err
	}
	if changed || version < types.CurrentEntryVersion {
		log.Ctx(ctx).InfoContext(
			ctx,
			"migrated entry",
			slog.String("entryID", entry.ID),
			slog.Int("from", version),
			slog.Int("to", types.CurrentEntryVersion),
		)
		if err := m.storage.SetEntry(ctx, migrated, types.CurrentEntryVersion); err != nil {
			return migrated, fmt.Errorf("failed to save migrated entry: %w", err)
		}
	}
	return migrated, nil
}

// Setup authenticates an entry, discovers its accounts if needed, performs
// the first refresh and starts polling.
func (m *Manager) Setup(ctx context.Context, entry types.Entry) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.setup(ctx, entry)
}

func (m *Manager) setup(ctx context.Context, entry types.Entry) error {
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("entryID", entry.ID)))

	if prev := m.get(entry.ID); prev != nil {
		m.teardown(prev)
	}

	me := &managed{entry: entry, state: StateNotLoaded}
	m.mu.Lock()
	m.entries[entry.ID] = me
	m.mu.Unlock()

	err := m.load(ctx, me)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	me.err = err
	if errors.Is(err, ErrInvalidAuth) {
		me.state = StateAuthFailed
	} else {
		me.state = StateSetupRetry
	}
	m.mu.Unlock()

	if me.state == StateSetupRetry && m.setupRetry > 0 {
		m.scheduleRetry(me)
	}
	return err
}

func (m *Manager) load(ctx context.Context, me *managed) error {
	m.mu.RLock()
	entry := me.entry
	m.mu.RUnlock()

	creds, err := decryptCredentials(ctx, m.encryptionKey, entry.EncryptedCredentials)
	if err != nil {
		return err
	}

	client := m.clients.Entry(entry.ID)
	if _, err := client.Authenticate(ctx, creds.Email, creds.Password); err != nil {
		var authErr *kraken.AuthError
		if errors.As(err, &authErr) {
			m.recordAuth(ctx, me, &entry, false)
			return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}
	m.recordAuth(ctx, me, &entry, true)

	if len(entry.AccountNumbers) == 0 {
		numbers, err := discoverAccounts(ctx, client)
		if err != nil {
			return err
		}
		entry.AccountNumbers = numbers
		m.setEntry(me, entry)
		if err := m.storage.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to save discovered accounts", slog.Any("error", err))
		}
	}

	coord := coordinator.NewAccountCoordinator("entry:"+entry.ID, m.pollInterval, client, entry.AccountNumbers)
	m.registry.AddEntry(entry.ID, entry.Options.DisabledEntities)
	removeListener := coord.AddListener(func() {
		m.registry.UpdateEntry(entry.ID, coord.Data(), coord.LastUpdateSuccess())
	})

	if err := coord.Refresh(ctx); err != nil && coord.Data() == nil {
		removeListener()
		m.registry.RemoveEntry(entry.ID)
		return fmt.Errorf("%w: first refresh failed: %v", ErrCannotConnect, err)
	}

	runCtx, cancel := context.WithCancel(log.With(m.baseCtx, log.Ctx(ctx)))
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(runCtx)
	}()

	m.mu.Lock()
	me.client = client
	me.coord = coord
	me.removeListener = removeListener
	me.cancel = cancel
	me.done = done
	me.state = StateLoaded
	me.err = nil
	m.mu.Unlock()

	if entry.Options.PublicTariffs {
		me.public = true
		m.acquirePublic(ctx)
	}

	log.Ctx(ctx).InfoContext(ctx, "entry loaded", slog.Int("accounts", len(entry.AccountNumbers)))
	return nil
}

// setEntry publishes a changed copy of the entry to Entries readers.
func (m *Manager) setEntry(me *managed, entry types.Entry) {
	m.mu.Lock()
	me.entry = entry
	m.mu.Unlock()
}

// recordAuth counts consecutive authentication failures on the entry and
// persists the count. The count is informational.
func (m *Manager) recordAuth(ctx context.Context, me *managed, entry *types.Entry, ok bool) {
	if ok && entry.AuthStatus.ConsecutiveFailures == 0 {
		return
	}
	if ok {
		entry.AuthStatus.ConsecutiveFailures = 0
	} else {
		entry.AuthStatus.ConsecutiveFailures++
	}
	entry.AuthStatus.LastAttempt = m.now()
	m.setEntry(me, *entry)
	if entry.ID == "" {
		return
	}
	if err := m.storage.SetEntry(ctx, *entry, types.CurrentEntryVersion); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to save auth status", slog.Any("error", err))
	}
}

func discoverAccounts(ctx context.Context, client Client) ([]string, error) {
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to discover accounts: %v", ErrCannotConnect, err)
	}
	numbers := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a.Number != "" {
			numbers = append(numbers, a.Number)
		}
	}
	if len(numbers) == 0 {
		return nil, ErrNoAccounts
	}
	return numbers, nil
}

func (m *Manager) scheduleRetry(me *managed) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	me.cancel = cancel
	me.done = done
	id := me.entry.ID
	go func() {
		defer close(done)
		t := time.NewTimer(m.setupRetry)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		// Reload waits for done, so run it outside this goroutine
		go func() {
			if err := m.Reload(m.baseCtx, id); err != nil {
				log.Ctx(m.baseCtx).DebugContext(m.baseCtx, "entry setup retry failed", slog.String("entryID", id), slog.Any("error", err))
			}
		}()
	}()
}

func (m *Manager) get(entryID string) *managed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[entryID]
}

// teardown stops an entry and removes its entities.
func (m *Manager) teardown(me *managed) {
	me.stop()
	m.registry.RemoveEntry(me.entry.ID)
	m.clients.Remove(me.entry.ID)
	if me.public {
		me.public = false
		m.releasePublic()
	}
	m.mu.Lock()
	delete(m.entries, me.entry.ID)
	m.mu.Unlock()
}

// Unload stops polling an entry and tears down its entities.
func (m *Manager) Unload(ctx context.Context, entryID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	me := m.get(entryID)
	if me == nil {
		return fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	m.teardown(me)
	log.Ctx(ctx).InfoContext(ctx, "entry unloaded", slog.String("entryID", entryID))
	return nil
}

// Reload unloads an entry and sets it up again from storage.
func (m *Manager) Reload(ctx context.Context, entryID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if me := m.get(entryID); me != nil {
		m.teardown(me)
	}
	stored, version, err := m.storage.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry, err := m.migrate(ctx, stored, version)
	if err != nil {
		return err
	}
	return m.setup(ctx, entry)
}

// Create validates credentials, discovers accounts, stores a new entry and
// sets it up.
func (m *Manager) Create(ctx context.Context, email, password string) (types.Entry, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return types.Entry{}, ErrInvalidAuth
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	stored, err := m.storage.ListEntries(ctx)
	if err != nil {
		return types.Entry{}, fmt.Errorf("failed to list entries: %w", err)
	}
	for _, se := range stored {
		if strings.EqualFold(se.Entry.Email, email) {
			return types.Entry{}, ErrAlreadyConfigured
		}
	}

	client := m.clients.NewClient()
	if _, err := client.Authenticate(ctx, email, password); err != nil {
		var authErr *kraken.AuthError
		if errors.As(err, &authErr) {
			return types.Entry{}, ErrInvalidAuth
		}
		log.Ctx(ctx).WarnContext(ctx, "failed to validate credentials", slog.Any("error", err))
		return types.Entry{}, ErrCannotConnect
	}
	numbers, err := discoverAccounts(ctx, client)
	if err != nil {
		return types.Entry{}, err
	}

	encrypted, err := encryptCredentials(ctx, m.encryptionKey, types.Credentials{Email: email, Password: password})
	if err != nil {
		return types.Entry{}, err
	}
	entry := types.Entry{
		ID:                   m.newID(),
		Title:                "Octopus Energy Italy (" + strings.ToLower(email) + ")",
		Email:                email,
		AccountNumbers:       numbers,
		Options:              types.EntryOptions{PublicTariffs: true},
		CreatedAt:            m.now(),
		EncryptedCredentials: encrypted,
	}
	if err := m.storage.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
		return types.Entry{}, fmt.Errorf("failed to save entry: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "entry created", slog.String("entryID", entry.ID), slog.Int("accounts", len(numbers)))

	if err := m.setup(ctx, entry); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "new entry failed to set up", slog.String("entryID", entry.ID), slog.Any("error", err))
	}
	return entry, nil
}

// Delete unloads an entry and removes it from storage.
func (m *Manager) Delete(ctx context.Context, entryID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if me := m.get(entryID); me != nil {
		m.teardown(me)
	}
	if err := m.storage.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "entry deleted", slog.String("entryID", entryID))
	return nil
}

// SetEntityEnabled enables or disables an entity and persists the choice on
// its entry.
func (m *Manager) SetEntityEnabled(ctx context.Context, uniqueID string, enabled bool) error {
	entryID, err := m.registry.SetEnabled(uniqueID, enabled)
	if err != nil {
		return err
	}
	if entryID == entity.PublicEntryID {
		return nil
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	me := m.get(entryID)
	if me == nil {
		return fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	m.mu.Lock()
	me.entry.Options.DisabledEntities = m.registry.Disabled(entryID)
	entry := me.entry
	m.mu.Unlock()
	if err := m.storage.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// Target returns the client and coordinator of a loaded entry.
func (m *Manager) Target(entryID string) (control.Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	me, ok := m.entries[entryID]
	if !ok || me.state != StateLoaded {
		return control.Target{}, false
	}
	return control.Target{Client: me.client, Coordinator: me.coord}, true
}

// Entries returns the status of every known entry sorted by id.
func (m *Manager) Entries() []EntryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EntryStatus, 0, len(m.entries))
	for _, me := range m.entries {
		st := EntryStatus{
			ID:             me.entry.ID,
			Title:          me.entry.Title,
			Email:          me.entry.Email,
			AccountNumbers: me.entry.AccountNumbers,
			PublicTariffs:  me.entry.Options.PublicTariffs,
			State:          me.state,
		}
		if me.err != nil {
			st.Error = me.err.Error()
		}
		if me.coord != nil {
			st.LastUpdateSuccess = me.coord.LastUpdateSuccess()
			st.LastSuccessAt = me.coord.LastSuccessAt()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Health returns the refresh state of every running coordinator.
func (m *Manager) Health() []CoordinatorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CoordinatorHealth
	for id, me := range m.entries {
		if me.coord == nil {
			continue
		}
		out = append(out, CoordinatorHealth{
			Name:              me.coord.Name(),
			EntryID:           id,
			LastUpdateSuccess: me.coord.LastUpdateSuccess(),
			LastSuccessAt:     me.coord.LastSuccessAt(),
		})
	}
	if m.public != nil {
		out = append(out, CoordinatorHealth{
			Name:              m.public.Name(),
			EntryID:           entity.PublicEntryID,
			LastUpdateSuccess: m.public.LastUpdateSuccess(),
			LastSuccessAt:     m.public.LastSuccessAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublicProducts returns the last known public tariffs, or nil.
func (m *Manager) PublicProducts() *types.PublicProducts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.public == nil {
		return nil
	}
	return m.public.Data()
}

// Close unloads every entry and stops the public tariff coordinator.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.RLock()
	all := make([]*managed, 0, len(m.entries))
	for _, me := range m.entries {
		all = append(all, me)
	}
	m.mu.RUnlock()
	for _, me := range all {
		m.teardown(me)
	}
}

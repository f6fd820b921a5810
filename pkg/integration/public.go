package integration

import (
	"context"
	"log/slog"

	"github.com/octoit/octoit/pkg/coordinator"
	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
)

// acquirePublic starts the shared public tariff coordinator for the first
// entry that wants public tariffs. Later entries share it.
func (m *Manager) acquirePublic(ctx context.Context) {
	if m.tariffs == nil {
		return
	}
	m.mu.Lock()
	m.publicUsers++
	running := m.public != nil
	m.mu.Unlock()
	if running {
		return
	}

	stored, err := m.storage.GetPublicProducts(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load stored public tariffs", slog.Any("error", err))
		stored = nil
	}
	c := m.tariffs.NewCoordinator(stored)
	remove := c.AddListener(func() { m.onPublic(c) })
	if stored != nil {
		m.registry.UpdatePublic(stored, false)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// the first refresh must not block entry setup
		_ = c.Refresh(runCtx)
		c.Run(runCtx)
	}()

	m.mu.Lock()
	m.public = c
	m.publicCancel = cancel
	m.publicDone = done
	m.publicRemove = remove
	m.mu.Unlock()
}

// releasePublic stops the public tariff coordinator once no entry uses it.
func (m *Manager) releasePublic() {
	m.mu.Lock()
	if m.publicUsers > 0 {
		m.publicUsers--
	}
	if m.publicUsers > 0 || m.public == nil {
		m.mu.Unlock()
		return
	}
	cancel, done, remove := m.publicCancel, m.publicDone, m.publicRemove
	m.public, m.publicCancel, m.publicDone, m.publicRemove = nil, nil, nil, nil
	m.mu.Unlock()

	cancel()
	<-done
	remove()
	m.registry.RemoveEntry(entity.PublicEntryID)
}

// onPublic publishes the public tariffs and persists every new successful
// fetch so restarts start from the last known prices.
func (m *Manager) onPublic(c *coordinator.Coordinator[types.PublicProducts]) {
	data := c.Data()
	ok := c.LastUpdateSuccess()
	m.registry.UpdatePublic(data, ok)
	if !ok || data == nil {
		return
	}

	m.savedMu.Lock()
	defer m.savedMu.Unlock()
	if data.FetchedAt.Equal(m.lastSavedAt) {
		return
	}
	if err := m.storage.SetPublicProducts(m.baseCtx, *data); err != nil {
		log.Ctx(m.baseCtx).WarnContext(m.baseCtx, "failed to save public tariffs", slog.Any("error", err))
		return
	}
	m.lastSavedAt = data.FetchedAt
}

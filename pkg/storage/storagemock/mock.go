package storagemock

import (
	"context"

	"github.com/octoit/octoit/pkg/storage"
	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetEntry(ctx context.Context, entryID string) (types.Entry, int, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(types.Entry), args.Int(1), args.Error(2)
}

func (m *MockDatabase) ListEntries(ctx context.Context) ([]storage.StoredEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.StoredEntry), args.Error(1)
}

func (m *MockDatabase) SetEntry(ctx context.Context, entry types.Entry, version int) error {
	args := m.Called(ctx, entry, version)
	return args.Error(0)
}

func (m *MockDatabase) DeleteEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockDatabase) SetPublicProducts(ctx context.Context, products types.PublicProducts) error {
	args := m.Called(ctx, products)
	return args.Error(0)
}

func (m *MockDatabase) GetPublicProducts(ctx context.Context) (*types.PublicProducts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.PublicProducts), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

package broker

import (
	"sync"
	"testing"
	"time"

	"projectx-bracket-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// memBroker is an in-memory gateway whose cancels and closes take effect
// immediately.
type memBroker struct {
	mu        sync.Mutex
	orders    map[int64]models.BrokerOrder
	positions map[string]models.BrokerPosition
	cancelled []int64
	closed    []string
}

func newMemBroker() *memBroker {
	return &memBroker{
		orders:    make(map[int64]models.BrokerOrder),
		positions: make(map[string]models.BrokerPosition),
	}
}

func (m *memBroker) PlaceMarket(int, string, int, int) (*models.OrderResult, error) {
	return nil, nil
}
func (m *memBroker) PlaceLimit(int, string, int, int, float64) (*models.OrderResult, error) {
	return nil, nil
}
func (m *memBroker) PlaceStop(int, string, int, int, float64) (*models.OrderResult, error) {
	return nil, nil
}

func (m *memBroker) Cancel(_ int, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *memBroker) SearchOpenOrders(int) ([]models.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BrokerOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *memBroker) SearchPositions(int) ([]models.BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memBroker) SearchTrades(int, time.Time) ([]models.BrokerTrade, error) {
	return nil, nil
}

func (m *memBroker) ClosePosition(_ int, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, contractID)
	m.closed = append(m.closed, contractID)
	return nil
}

func (m *memBroker) addOrder(o models.BrokerOrder) {
	m.orders[o.ID] = o
}

func TestFlattenContract_CancelsAndCloses(t *testing.T) {
	m := newMemBroker()
	m.addOrder(models.BrokerOrder{ID: 1, ContractID: "MES", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})
	m.addOrder(models.BrokerOrder{ID: 2, ContractID: "MES", Type: models.OrderTypeLimit, Status: models.OrderStatusOpen})
	m.addOrder(models.BrokerOrder{ID: 3, ContractID: "OTHER", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})
	m.positions["MES"] = models.BrokerPosition{ContractID: "MES", Type: 1, Size: 2}

	ok := FlattenContract(m, zap.NewNop().Sugar(), 1, "MES", 5*time.Second)

	assert.True(t, ok)
	assert.ElementsMatch(t, []int64{1, 2}, m.cancelled)
	assert.Equal(t, []string{"MES"}, m.closed)
	// The unrelated contract's order survives.
	assert.Contains(t, m.orders, int64(3))
}

func TestFlattenContract_AlreadyFlat(t *testing.T) {
	m := newMemBroker()
	ok := FlattenContract(m, zap.NewNop().Sugar(), 1, "MES", time.Second)

	assert.True(t, ok)
	assert.Empty(t, m.cancelled)
	assert.Empty(t, m.closed)
}

func TestCancelAllStops_OnlyStopsOnContract(t *testing.T) {
	m := newMemBroker()
	m.addOrder(models.BrokerOrder{ID: 1, ContractID: "MES", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})
	m.addOrder(models.BrokerOrder{ID: 2, ContractID: "MES", Type: models.OrderTypeLimit, Status: models.OrderStatusOpen})
	m.addOrder(models.BrokerOrder{ID: 3, ContractID: "MNQ", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})

	CancelAllStops(m, zap.NewNop().Sugar(), 1, "MES")

	assert.Equal(t, []int64{1}, m.cancelled)
	assert.Contains(t, m.orders, int64(2))
	assert.Contains(t, m.orders, int64(3))
}

func TestSweepPhantomOrders_FlattensUnprotectedPosition(t *testing.T) {
	m := newMemBroker()
	m.positions["MES"] = models.BrokerPosition{ContractID: "MES", Type: 1, Size: 1}

	SweepPhantomOrders(m, zap.NewNop().Sugar(), 1, "MES")

	assert.Equal(t, []string{"MES"}, m.closed)
}

func TestSweepPhantomOrders_ProtectedPositionUntouched(t *testing.T) {
	m := newMemBroker()
	m.positions["MES"] = models.BrokerPosition{ContractID: "MES", Type: 1, Size: 1}
	m.addOrder(models.BrokerOrder{ID: 1, ContractID: "MES", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})

	SweepPhantomOrders(m, zap.NewNop().Sugar(), 1, "MES")

	assert.Empty(t, m.closed)
	assert.Empty(t, m.cancelled)
}

func TestSweepPhantomOrders_CancelsOrphanOrders(t *testing.T) {
	m := newMemBroker()
	m.addOrder(models.BrokerOrder{ID: 1, ContractID: "MES", Type: models.OrderTypeStop, Status: models.OrderStatusOpen})
	m.addOrder(models.BrokerOrder{ID: 2, ContractID: "MES", Type: models.OrderTypeLimit, Status: models.OrderStatusOpen})

	SweepPhantomOrders(m, zap.NewNop().Sugar(), 1, "MES")

	assert.ElementsMatch(t, []int64{1, 2}, m.cancelled)
	assert.Empty(t, m.closed)
}

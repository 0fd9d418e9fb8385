package handlers

import (
	"context"
	"sync"
	"time"

	"beverage_dispenser/internal/models"
	"beverage_dispenser/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockController struct {
	mu sync.Mutex

	status   models.SystemStatus
	history  []models.ErrorRecord
	profiles []models.BeverageProfile

	dispenseErr    error
	stopErr        error
	enterErr       error
	exitErr        error
	conveyorErr    error
	resetErr       error
	resetStatsErr  error
	lastVolume     float64
	lastBeverage   string
	lastSpeed      float64
	lastDuration   time.Duration
	dispenseCalls  int
	stopCalls      int
	enterCalls     int
	exitCalls      int
	resetCalls     int
	resetStatCalls int
}

var _ service.Controller = (*mockController)(nil)

func (m *mockController) InitializeSystem(ctx context.Context) error { return nil }

func (m *mockController) Dispense(volumeMl float64, beverageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispenseCalls++
	m.lastVolume = volumeMl
	m.lastBeverage = beverageKey
	return m.dispenseErr
}

func (m *mockController) StopOperation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return m.stopErr
}

func (m *mockController) EnterMaintenanceMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enterCalls++
	return m.enterErr
}

func (m *mockController) ExitMaintenanceMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitCalls++
	return m.exitErr
}

func (m *mockController) MoveConveyor(ctx context.Context, speed float64, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSpeed = speed
	m.lastDuration = d
	return m.conveyorErr
}

func (m *mockController) ResetSystem() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	return m.resetErr
}

func (m *mockController) ResetStats() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetStatCalls++
	return m.resetStatsErr
}

func (m *mockController) CheckpointStats(ctx context.Context) error { return nil }

func (m *mockController) GetSystemState() models.SystemStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockController) setStatus(st models.SystemStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = st
}

func (m *mockController) GetErrorHistory() []models.ErrorRecord { return m.history }

func (m *mockController) Beverages() []models.BeverageProfile { return m.profiles }

func (m *mockController) Shutdown(ctx context.Context) error { return nil }

type mockEventLog struct {
	resp     []models.Event
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.Event, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

func (m *mockEventLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

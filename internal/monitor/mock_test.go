package monitor

import (
	"context"
	"sync"

	"gravbar/internal/langserver"
	"gravbar/internal/locator"
	"gravbar/internal/quota"
)

// mockDiscoverer counts discovery passes and returns configured values.
type mockDiscoverer struct {
	mu    sync.Mutex
	conn  locator.ConnectionInfo
	err   error
	calls int
}

func (m *mockDiscoverer) Discover(ctx context.Context) (locator.ConnectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return locator.ConnectionInfo{}, m.err
	}
	return m.conn, nil
}

func (m *mockDiscoverer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockLocal records FetchUserStatus calls; fetchFn may be swapped mid-test.
type mockLocal struct {
	mu       sync.Mutex
	fetchFn  func(conn locator.ConnectionInfo) (*langserver.UserStatus, error)
	calls    int
	lastConn locator.ConnectionInfo
}

func (m *mockLocal) FetchUserStatus(ctx context.Context, conn locator.ConnectionInfo) (*langserver.UserStatus, error) {
	m.mu.Lock()
	m.calls++
	m.lastConn = conn
	fn := m.fetchFn
	m.mu.Unlock()
	return fn(conn)
}

func (m *mockLocal) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockLocal) setFetchFn(fn func(conn locator.ConnectionInfo) (*langserver.UserStatus, error)) {
	m.mu.Lock()
	m.fetchFn = fn
	m.mu.Unlock()
}

// mockCloud returns a configured model list or error.
type mockCloud struct {
	mu        sync.Mutex
	models    []quota.ModelQuota
	err       error
	available bool
	calls     int
}

func (m *mockCloud) FetchAvailableModels(ctx context.Context) ([]quota.ModelQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.models, nil
}

func (m *mockCloud) IsAvailable() bool { return m.available }

func (m *mockCloud) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

package worker

import (
	"context"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// MockClickHouseConn implements driver.Conn for testing. Only PrepareBatch
// is exercised by the sink; everything else falls through to the embedded
// nil interface and would panic if called.
type MockClickHouseConn struct {
	driver.Conn

	mu      sync.Mutex
	batches []*MockBatch
	prepErr error
}

func (m *MockClickHouseConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepErr != nil {
		return nil, m.prepErr
	}
	b := &MockBatch{}
	m.batches = append(m.batches, b)
	return b, nil
}

func (m *MockClickHouseConn) appendedRows() [][]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows [][]interface{}
	for _, b := range m.batches {
		rows = append(rows, b.rows()...)
	}
	return rows
}

func (m *MockClickHouseConn) sentBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := 0
	for _, b := range m.batches {
		if b.IsSent() {
			sent++
		}
	}
	return sent
}

// MockBatch implements driver.Batch and records appended rows.
type MockBatch struct {
	mu       sync.Mutex
	appended [][]interface{}
	sent     bool
	sendErr  error
}

func (m *MockBatch) Append(v ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := make([]interface{}, len(v))
	copy(row, v)
	m.appended = append(m.appended, row)
	return nil
}

func (m *MockBatch) AppendStruct(v interface{}) error { return nil }

func (m *MockBatch) Send() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = true
	return nil
}

func (m *MockBatch) IsSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *MockBatch) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended)
}

func (m *MockBatch) rows() [][]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]interface{}, len(m.appended))
	copy(out, m.appended)
	return out
}

func (m *MockBatch) Column(int) driver.BatchColumn { return nil }
func (m *MockBatch) Flush() error                  { return nil }
func (m *MockBatch) Abort() error                  { return nil }
func (m *MockBatch) Close() error                  { return nil }

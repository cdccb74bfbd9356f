// Package memory is an in-process LedgerMirror for tests and local runs
// without spreadsheet credentials.
package memory

import (
	"context"
	"sync"

	"housefees/internal/core"
	"housefees/internal/sheets"
)

var _ sheets.LedgerMirror = (*Mirror)(nil)

type Mirror struct {
	mu      sync.Mutex
	rows    [][]string
	updates int
	err     error
}

func New() *Mirror {
	return &Mirror{}
}

// FailWith makes subsequent ReplaceUnits calls return err; nil clears it.
func (m *Mirror) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mirror) ReplaceUnits(ctx context.Context, units []core.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rows := make([][]string, 0, len(units)+1)
	rows = append(rows, append([]string(nil), sheets.Header...))
	for _, u := range units {
		rows = append(rows, sheets.Row(u))
	}
	m.rows = rows
	m.updates++
	return nil
}

// Rows returns the mirrored sheet including the header row.
func (m *Mirror) Rows() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Updates counts successful ReplaceUnits calls.
func (m *Mirror) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

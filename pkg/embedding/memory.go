package embedding

import (
	"context"
	"sync"

	"github.com/sorrycc/elasticdl/pkg/errors"
)

// MemoryGateway is an in-process embedding store used by tests and
// single-process deployments.
type MemoryGateway struct {
	sync.Mutex

	rows map[string][]float64
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		rows: make(map[string][]float64),
	}
}

func (g *MemoryGateway) Lookup(_ context.Context, keys []string) ([][]float64, []string, error) {
	g.Lock()
	defer g.Unlock()

	rows := make([][]float64, 0, len(keys))
	var missing []string
	for _, key := range keys {
		row, ok := g.rows[key]
		if !ok {
			missing = append(missing, key)

			continue
		}
		rows = append(rows, append([]float64(nil), row...))
	}

	return rows, missing, nil
}

func (g *MemoryGateway) Upsert(_ context.Context, keys []string, rows [][]float64) error {
	if len(keys) != len(rows) {
		return errors.ErrInvalidData
	}

	g.Lock()
	defer g.Unlock()

	for i, key := range keys {
		if key == "" {
			return errors.ErrEmptyKey
		}
		g.rows[key] = append([]float64(nil), rows[i]...)
	}

	return nil
}

package embedding

import (
	"context"
	"strconv"
)

// Gateway is the capability boundary to the external key-value store
// holding embedding rows that are not part of the in-memory model.
// Lookup returns the stored rows in key order plus the subset of keys
// the store could not resolve.
type Gateway interface {
	Lookup(ctx context.Context, keys []string) (rows [][]float64, missing []string, err error)
	Upsert(ctx context.Context, keys []string, rows [][]float64) error
}

// Key encodes an embedding layer name and row id into the store key
// used by both lookups and upserts.
func Key(layerName string, id int64) string {
	return layerName + "-" + strconv.FormatInt(id, 10)
}

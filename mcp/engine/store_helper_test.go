package engine

import "github.com/fyrsmith/mcpd/store"

func newTestStore() *store.Memory {
	return store.NewMemory(10)
}

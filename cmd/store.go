package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skillgen/internal/store"
)

// openLedger opens the configured store for commands that cannot work
// without one.
func openLedger(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no run ledger configured: set store.driver to sqlite or postgres (SKILLGEN_STORE_DRIVER)")
	}
	return st, nil
}

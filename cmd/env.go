/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// env.go assembles the search stack from configuration: the backing cache,
// the cache façade and the name space with synonyms loaded.
//
// Separated from the command files so serve, find and cache clean share one
// construction path.

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/cache/fscache"
	"github.com/svank/appa-backend/internal/cache/sqlitecache"
	"github.com/svank/appa-backend/internal/config"
	"github.com/svank/appa-backend/internal/names"
)

// env is the per-invocation search stack. close releases the backing when
// it holds resources (the sqlite backend).
type env struct {
	cache *cache.Cache
	ns    *names.NameSpace
	log   *slog.Logger
	close func() error
}

// newEnv builds the stack described by the loaded configuration.
func newEnv() (*env, error) {
	log := slog.Default()

	var backing cache.Backing
	closer := func() error { return nil }
	switch cfg.Backend() {
	case config.BackendSQLite:
		b, err := sqlitecache.Open(cfg.CacheLocation())
		if err != nil {
			return nil, fmt.Errorf("opening cache database: %w", err)
		}
		backing = b
		closer = b.Close
	case config.BackendFS:
		backing = fscache.New(cfg.CacheLocation())
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend())
	}

	ns := names.NewNameSpace()
	if files := cfg.SynonymFiles(); len(files) > 0 {
		if err := ns.LoadSynonyms(files...); err != nil {
			_ = closer()
			return nil, fmt.Errorf("loading synonyms: %w", err)
		}
	}

	c := cache.New(backing, ns, log)
	if err := c.Refresh(context.Background()); err != nil {
		_ = closer()
		return nil, fmt.Errorf("preparing cache: %w", err)
	}

	return &env{
		cache: c,
		ns:    ns,
		log:   log,
		close: closer,
	}, nil
}

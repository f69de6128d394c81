// Package app wires the process: config in, a ready-to-serve API and a
// cleanup function out. Both binaries build through here so they resolve
// backends identically.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/antoniostano/relay/internal/assembler"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/embed"
	"github.com/antoniostano/relay/internal/httpapi"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/provider"
	"github.com/antoniostano/relay/internal/router"
	"github.com/antoniostano/relay/internal/session"
	"github.com/antoniostano/relay/internal/vector"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Routes   *router.Manager
	Registry *session.Registry
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to drain background index writes
	// and release external resources (DB handles, persisted index).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	var (
		index    vector.Index
		embedder embed.Embedder
	)
	if cfg.MemoryEnabled && strings.EqualFold(cfg.MemoryMode, "vector") {
		embedder, err = embed.NewEmbedder(cfg)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("embedder init failed: %w", err)
		}
		chromem, err := vector.NewChromemIndex(cfg.VectorPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("vector index init failed: %w", err)
		}
		index = chromem
		log.Printf("vector memory enabled (path=%q, embed dims=%d)", cfg.VectorPath, embedder.Dimensions())
	}

	adapter, err := provider.NewAdapter(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("provider adapter init failed: %w", err)
	}
	log.Printf("provider backend: %s", adapter.Backend())

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)
	asm := assembler.New(store, index, embedder, metrics)
	routes := router.NewManager(cfg, adapter, store, index, embedder, asm, registry, metrics)
	api := httpapi.New(cfg, routes, store, index, registry, metrics)

	cleanup := func() error {
		var errs []string
		if err := routes.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if index != nil {
			if err := index.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Routes:   routes,
		Registry: registry,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// Package app wires the services behind the handler. Both binaries build
// their handler here after reading their own configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"multichat/handler"
	"multichat/internal/catalog"
	"multichat/internal/usecase"
)

type Config struct {
	CatalogPath string
	Store       usecase.DocumentStore
	Decisions   usecase.DecisionService
	Backend     usecase.Backend
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// LoadCatalog reads the catalog at path, or the embedded one when path is
// empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// NewHandler builds the full service graph.
func NewHandler(cfg Config) (*handler.Handler, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("app: document store is required")
	case cfg.Decisions == nil:
		return nil, errors.New("app: decision service is required")
	case cfg.Backend == nil:
		return nil, errors.New("app: backend is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	cat, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}
	syncer, err := usecase.NewSyncer(cfg.Store, log)
	if err != nil {
		return nil, err
	}
	quota, err := usecase.NewQuotaGate(cfg.Decisions, log)
	if err != nil {
		return nil, err
	}
	relay, err := usecase.NewRelayService(cfg.Backend, cat, log)
	if err != nil {
		return nil, err
	}
	dispatcher, err := usecase.NewDispatcher(quota, relay, syncer, log, cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	chat, err := usecase.NewChatService(cat, syncer, quota, dispatcher, log)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(chat, relay, log)
}

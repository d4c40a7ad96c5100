package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cardbuff/cardstats/internal/ports/out/kvstore"
)

const storageKey = "extension_enabled"

// Service holds the persisted on/off switch. The service starts enabled;
// the stored value survives restarts.
type Service struct {
	store kvstore.Store
	log   *slog.Logger

	mu      sync.Mutex
	enabled bool
}

func NewService(store kvstore.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, enabled: true}
}

// Load restores the persisted flag. An unreadable value falls back to
// enabled.
func (s *Service) Load(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("load enabled flag: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	if !ok {
		return nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn("enabled flag unreadable, defaulting to on", "error", err)
		return nil
	}
	s.enabled = v
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled persists the flag and reports whether the value changed.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) (bool, error) {
	s.mu.Lock()
	changed := s.enabled != enabled
	s.enabled = enabled
	s.mu.Unlock()

	raw, err := json.Marshal(enabled)
	if err != nil {
		return changed, fmt.Errorf("encode enabled flag: %w", err)
	}
	if err := s.store.Set(ctx, storageKey, raw); err != nil {
		return changed, fmt.Errorf("persist enabled flag: %w", err)
	}
	if changed {
		s.log.Info("enabled flag changed", "enabled", enabled)
	}
	return changed, nil
}

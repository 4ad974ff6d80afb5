// Package settings owns the connection settings of the remote WebUI: a seed
// taken from configuration, optionally overridden at runtime and persisted.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"torrentstream/qbtcontrol/internal/domain"
)

// Store persists the runtime override. found is false when nothing has been
// saved yet.
type Store interface {
	Load(ctx context.Context) (settings domain.ConnectionSettings, found bool, err error)
	Save(ctx context.Context, settings domain.ConnectionSettings) error
}

type Service struct {
	seed   domain.ConnectionSettings
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService falls back to an in-memory store when store is nil.
func NewService(seed domain.ConnectionSettings, store Store, opts ...Option) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	svc := &Service{
		seed:   seed.Normalize(),
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Current returns the stored override, or the seed when none exists.
func (s *Service) Current(ctx context.Context) (domain.ConnectionSettings, error) {
	stored, found, err := s.store.Load(ctx)
	if err != nil {
		return domain.ConnectionSettings{}, fmt.Errorf("load connection settings: %w", err)
	}
	if !found {
		return s.seed, nil
	}
	return stored.Normalize(), nil
}

func (s *Service) Get(ctx context.Context) (domain.ConnectionSettingsView, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return domain.ConnectionSettingsView{}, err
	}
	return current.Redacted(), nil
}

// Update applies patch on top of the current settings and persists the
// result.
func (s *Service) Update(ctx context.Context, patch domain.ConnectionSettingsPatch) (domain.ConnectionSettingsView, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return domain.ConnectionSettingsView{}, err
	}
	next := current.Apply(patch)
	if err := validateHost(next.Host); err != nil {
		return domain.ConnectionSettingsView{}, err
	}
	next.UpdatedAt = s.now().UnixMilli()
	if err := s.store.Save(ctx, next); err != nil {
		return domain.ConnectionSettingsView{}, fmt.Errorf("save connection settings: %w", err)
	}
	s.logger.Info("connection settings updated",
		slog.String("host", next.Host),
		slog.String("username", next.Username),
		slog.Bool("passwordChanged", patch.Password != nil),
	)
	return next.Redacted(), nil
}

func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", domain.ErrInvalidArgument)
	}
	raw := host
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid host: %v", domain.ErrInvalidArgument, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: host scheme must be http or https", domain.ErrInvalidArgument)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: host is missing a hostname", domain.ErrInvalidArgument)
	}
	return nil
}

// MemoryStore keeps the override in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	settings domain.ConnectionSettings
	found    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (domain.ConnectionSettings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, m.found, nil
}

func (m *MemoryStore) Save(_ context.Context, settings domain.ConnectionSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.found = true
	return nil
}

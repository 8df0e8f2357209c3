package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/claudegate/llm/providers/claude"
	"golang.org/x/sync/singleflight"
	"go.uber.org/zap"
)

// Lister fetches the live model list. *claude.Executor satisfies it.
type Lister interface {
	ListModels(ctx context.Context) ([]claude.ModelInfo, error)
}

// Store shares snapshots between instances. A nil snapshot with a nil error
// means nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error
}

// Recorder counts cache hits and misses. *metrics.Collector satisfies it.
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Snapshot is one fetched model list.
type Snapshot struct {
	Models    []claude.ModelInfo `json:"models"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Source tells where a Models result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceFresh    Source = "fresh"
	SourceStale    Source = "stale"
	SourceFallback Source = "fallback"
)

// Config configures a Catalog.
type Config struct {
	// RefreshInterval is how long a snapshot stays fresh. Zero means a
	// snapshot never expires once fetched.
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" env:"REFRESH_INTERVAL"`
	// FetchTimeout bounds one upstream refresh.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" env:"FETCH_TIMEOUT"`
}

// DefaultConfig returns a one hour refresh and a 10s fetch timeout.
func DefaultConfig() Config {
	return Config{RefreshInterval: time.Hour, FetchTimeout: 10 * time.Second}
}

const cacheType = "model_catalog"

var errEmptyList = errors.New("upstream returned no claude models")

// Catalog serves the model list with a refresh interval, falling back to the
// last good snapshot and then to a fixed list when the upstream fails.
type Catalog struct {
	lister   Lister
	store    Store
	recorder Recorder
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	snap  *Snapshot
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithStore shares snapshots through s, e.g. a RedisStore.
func WithStore(s Store) Option { return func(c *Catalog) { c.store = s } }

// WithRecorder reports cache hits and misses.
func WithRecorder(r Recorder) Option { return func(c *Catalog) { c.recorder = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

// New creates a Catalog. A nil lister (no API key configured) always
// serves the fallback list.
func New(lister Lister, cfg Config, logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}
	c := &Catalog{
		lister: lister,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(zap.String("component", "catalog")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns the current model list and where it came from. It never
// fails: the worst case is the fallback list.
func (c *Catalog) Models(ctx context.Context) ([]claude.ModelInfo, Source) {
	if snap := c.local(); c.fresh(snap) {
		c.hit()
		return cloneModels(snap.Models), SourceCache
	}
	if snap := c.shared(ctx); c.fresh(snap) {
		c.hit()
		c.adopt(snap)
		return cloneModels(snap.Models), SourceCache
	}
	c.miss()

	snap, err := c.refresh(ctx)
	if err == nil {
		return cloneModels(snap.Models), SourceFresh
	}

	if snap := c.local(); snap != nil {
		c.logger.Warn("using stale model list", zap.Error(err), zap.Time("fetched_at", snap.FetchedAt))
		return cloneModels(snap.Models), SourceStale
	}
	if snap := c.shared(ctx); snap != nil {
		c.logger.Warn("using stale shared model list", zap.Error(err))
		return cloneModels(snap.Models), SourceStale
	}
	c.logger.Warn("using fallback model list", zap.Error(err))
	return Fallback(), SourceFallback
}

// Refresh fetches the list now, ignoring freshness.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// refresh runs at most one upstream fetch at a time; concurrent callers
// share its result.
func (c *Catalog) refresh(ctx context.Context) (*Snapshot, error) {
	if c.lister == nil {
		return nil, errors.New("no model lister configured")
	}
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()

		models, err := c.lister.ListModels(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(models) == 0 {
			return nil, errEmptyList
		}
		snap := &Snapshot{Models: models, FetchedAt: c.now()}
		c.adopt(snap)
		if c.store != nil {
			if err := c.store.Save(fetchCtx, snap, c.storeTTL()); err != nil {
				c.logger.Warn("failed to share model list", zap.Error(err))
			}
		}
		c.logger.Info("model list refreshed", zap.Int("models", len(models)))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight model refresh")
	}
	return v.(*Snapshot), nil
}

func (c *Catalog) fresh(snap *Snapshot) bool {
	if snap == nil || len(snap.Models) == 0 {
		return false
	}
	if c.cfg.RefreshInterval == 0 {
		return true
	}
	return c.now().Sub(snap.FetchedAt) < c.cfg.RefreshInterval
}

func (c *Catalog) local() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Catalog) adopt(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || !snap.FetchedAt.Before(c.snap.FetchedAt) {
		c.snap = snap
	}
}

func (c *Catalog) shared(ctx context.Context) *Snapshot {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load shared model list", zap.Error(err))
		return nil
	}
	return snap
}

// storeTTL keeps shared snapshots past their refresh interval so they can
// still serve as a stale fallback.
func (c *Catalog) storeTTL() time.Duration {
	if c.cfg.RefreshInterval == 0 {
		return -1
	}
	return 24 * c.cfg.RefreshInterval
}

func (c *Catalog) hit() {
	if c.recorder != nil {
		c.recorder.RecordCacheHit(cacheType)
	}
}

func (c *Catalog) miss() {
	if c.recorder != nil {
		c.recorder.RecordCacheMiss(cacheType)
	}
}

func cloneModels(in []claude.ModelInfo) []claude.ModelInfo {
	out := make([]claude.ModelInfo, len(in))
	copy(out, in)
	return out
}

// Fallback is served when no list has ever been fetched.
func Fallback() []claude.ModelInfo {
	return []claude.ModelInfo{
		{ID: "claude-sonnet-4-5-20250929", DisplayName: "Claude Sonnet 4.5"},
		{ID: "claude-haiku-4-5-20251001", DisplayName: "Claude Haiku 4.5"},
		{ID: "claude-opus-4-1-20250805", DisplayName: "Claude Opus 4.1"},
		{ID: "claude-3-7-sonnet-20250219", DisplayName: "Claude 3.7 Sonnet"},
		{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet"},
		{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku"},
		{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus"},
		{ID: "claude-3-sonnet-20240229", DisplayName: "Claude 3 Sonnet"},
		{ID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku"},
	}
}

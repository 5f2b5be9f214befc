package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/entitystore/internal/metrics"
	"github.com/devrev/pairdb/entitystore/internal/model"
)

var (
	probeScope = model.NewCollectionScope("entitystore_refresh", "refresh")

	errProbeNotVisible = errors.New("refresh probe not yet searchable")
)

// RefreshConfig bounds how long a refresh waits for its probe
type RefreshConfig struct {
	Wait            time.Duration
	MaxSearches     int
	InitialInterval time.Duration
}

// RefreshInfo reports the outcome of one refresh
type RefreshInfo struct {
	Found    bool
	Elapsed  time.Duration
	Searches int
}

// RefreshCommand forces the index to refresh and waits until a freshly written
// probe document is searchable, proving earlier writes are searchable too.
type RefreshCommand struct {
	client  Client
	cfg     RefreshConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu sync.Mutex
}

// NewRefreshCommand creates a refresh command
func NewRefreshCommand(client Client, cfg RefreshConfig, m *metrics.Metrics, logger *zap.Logger) *RefreshCommand {
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.MaxSearches <= 0 {
		cfg.MaxSearches = 10
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 50 * time.Millisecond
	}
	return &RefreshCommand{client: client, cfg: cfg, metrics: m, logger: logger}
}

// Execute writes the probe, refreshes and polls until the probe is found, the
// search budget is spent or the wait elapses. The probe is removed afterwards.
// Not finding the probe is reported in RefreshInfo, not as an error.
func (c *RefreshCommand) Execute(ctx context.Context) (RefreshInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	version, err := model.NewVersion()
	if err != nil {
		return RefreshInfo{}, err
	}
	probe := &model.Entity{
		ID:      model.NewID("refresh_probe"),
		Version: version,
		Stage:   model.StageCommitted,
	}
	doc := NewDocument(probeScope, probe)

	if err := c.client.Put(ctx, doc); err != nil {
		return RefreshInfo{}, fmt.Errorf("failed to write refresh probe: %w", err)
	}
	defer c.cleanup(doc.ID)

	if err := c.client.Refresh(ctx); err != nil {
		return RefreshInfo{}, fmt.Errorf("failed to refresh index: %w", err)
	}

	info := RefreshInfo{}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialInterval
	policy.MaxElapsedTime = c.cfg.Wait

	search := func() error {
		info.Searches++
		docs, err := c.client.SearchEntity(ctx, probeScope, probe.ID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("refresh search failed: %w", err))
		}
		if len(docs) == 0 {
			return errProbeNotVisible
		}
		return nil
	}

	err = backoff.Retry(search, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.cfg.MaxSearches-1)), ctx))
	info.Elapsed = time.Since(start)

	switch {
	case err == nil:
		info.Found = true
		c.metrics.RecordIndexRefresh(info.Elapsed)
		c.logger.Info("Found probe during refresh",
			zap.String("probe_id", doc.ID),
			zap.Int("searches", info.Searches),
			zap.Duration("elapsed", info.Elapsed))
		return info, nil
	case errors.Is(err, errProbeNotVisible):
		c.logger.Error("Could not find probe during refresh",
			zap.String("probe_id", doc.ID),
			zap.Int("searches", info.Searches),
			zap.Duration("elapsed", info.Elapsed))
		return info, nil
	default:
		c.logger.Error("Refresh search failed",
			zap.String("probe_id", doc.ID),
			zap.Error(err))
		return info, err
	}
}

func (c *RefreshCommand) cleanup(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Wait)
	defer cancel()
	if err := c.client.Delete(ctx, docID); err != nil {
		c.logger.Warn("Failed to remove refresh probe",
			zap.String("probe_id", docID),
			zap.Error(err))
	}
}

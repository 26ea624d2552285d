package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/sheets"
)

const (
	// renewLead is how far ahead of channel expiry renewal starts.
	renewLead = 24 * time.Hour
	// renewCheckInterval is how often the renewer sweeps for expiring channels.
	renewCheckInterval = time.Hour
)

// WatchRegistry persists watch-channel records.
type WatchRegistry interface {
	ListExpiring(ctx context.Context, before time.Time) ([]domain.SheetWatch, error)
	Upsert(ctx context.Context, w domain.SheetWatch) error
}

// ChannelService registers and stops Drive push-notification channels.
type ChannelService interface {
	WatchFile(ctx context.Context, fileID string) (*sheets.WatchChannel, error)
	StopChannel(ctx context.Context, channelID, resourceID string) error
}

// WatchRenewer keeps Drive push channels alive. Channels expire on a
// server-imposed schedule; the renewer replaces any channel within a day
// of expiry. A per-channel floor caps how often one file may be renewed
// so a flapping registration cannot hammer the Drive API.
type WatchRenewer struct {
	registry WatchRegistry
	channels ChannelService
	floor    time.Duration
	now      func() time.Time

	renewed    int64
	errorCount int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWatchRenewer creates a renewer with the configured renewal floor.
func NewWatchRenewer(registry WatchRegistry, channels ChannelService, cfg config.SheetsConfig) *WatchRenewer {
	return &WatchRenewer{
		registry: registry,
		channels: channels,
		floor:    cfg.RenewalFloor(),
		now:      time.Now,
	}
}

// Start launches the hourly renewal sweep.
func (r *WatchRenewer) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("watch renewer already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	logger.Info("watch renewer starting", "check_interval", renewCheckInterval.String())

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop gracefully stops the renewer.
func (r *WatchRenewer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	logger.Info("watch renewer stopped",
		"renewed", atomic.LoadInt64(&r.renewed),
		"errors", atomic.LoadInt64(&r.errorCount))
}

func (r *WatchRenewer) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(renewCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RenewExpiring(r.ctx, false); err != nil {
				logger.Error("watch renewal sweep failed", "error", err.Error())
			}
		}
	}
}

// RenewExpiring replaces every channel expiring within the lead window.
// With force set, the per-channel renewal floor is ignored. Returns how
// many channels were renewed.
func (r *WatchRenewer) RenewExpiring(ctx context.Context, force bool) (int, error) {
	cutoff := r.now().Add(renewLead)
	watches, err := r.registry.ListExpiring(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing expiring watches: %w", err)
	}

	renewed := 0
	for _, w := range watches {
		if !force && r.now().Sub(w.RenewedAt) < r.floor {
			logger.Debug("skipping recently renewed watch",
				"file_id", w.FileID, "renewed_at", w.RenewedAt.Format(time.RFC3339))
			continue
		}
		if err := r.renewOne(ctx, w); err != nil {
			atomic.AddInt64(&r.errorCount, 1)
			logger.Error("renewing watch", "file_id", w.FileID, "error", err.Error())
			continue
		}
		renewed++
		atomic.AddInt64(&r.renewed, 1)
	}
	return renewed, nil
}

// renewOne registers a replacement channel, then stops the old one. Stop
// failures are logged and ignored; an expired channel returns 404 and an
// orphaned live one just goes unused until it lapses.
func (r *WatchRenewer) renewOne(ctx context.Context, old domain.SheetWatch) error {
	ch, err := r.channels.WatchFile(ctx, old.FileID)
	if err != nil {
		return fmt.Errorf("registering replacement channel: %w", err)
	}

	record := domain.SheetWatch{
		FileID:     old.FileID,
		ChannelID:  ch.ID,
		ResourceID: ch.ResourceID,
		ExpiresAt:  time.UnixMilli(ch.ExpirationMillis).UTC(),
	}
	if err := r.registry.Upsert(ctx, record); err != nil {
		return fmt.Errorf("recording replacement channel: %w", err)
	}

	if old.ChannelID != "" {
		if err := r.channels.StopChannel(ctx, old.ChannelID, old.ResourceID); err != nil {
			logger.Warn("stopping superseded channel",
				"file_id", old.FileID, "channel_id", old.ChannelID, "error", err.Error())
		}
	}

	logger.Info("renewed sheet watch", "file_id", old.FileID,
		"channel_id", ch.ID, "expires_at", record.ExpiresAt.Format(time.RFC3339))
	return nil
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/sheets"
)

type fakeWatchRegistry struct {
	expiring []domain.SheetWatch
	upserts  []domain.SheetWatch
}

func (f *fakeWatchRegistry) ListExpiring(context.Context, time.Time) ([]domain.SheetWatch, error) {
	return f.expiring, nil
}

func (f *fakeWatchRegistry) Upsert(_ context.Context, w domain.SheetWatch) error {
	f.upserts = append(f.upserts, w)
	return nil
}

type fakeChannelService struct {
	watched  []string
	stopped  []string
	watchErr error
}

func (f *fakeChannelService) WatchFile(_ context.Context, fileID string) (*sheets.WatchChannel, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watched = append(f.watched, fileID)
	return &sheets.WatchChannel{
		ID:               "chan-new-" + fileID,
		ResourceID:       "res-new-" + fileID,
		ExpirationMillis: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}, nil
}

func (f *fakeChannelService) StopChannel(_ context.Context, channelID, _ string) error {
	f.stopped = append(f.stopped, channelID)
	return nil
}

func testRenewer(registry *fakeWatchRegistry, channels *fakeChannelService) *WatchRenewer {
	r := NewWatchRenewer(registry, channels, config.SheetsConfig{WatchRenewalFloorHours: 1})
	r.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRenewExpiring(t *testing.T) {
	registry := &fakeWatchRegistry{expiring: []domain.SheetWatch{{
		FileID:     "file-1",
		ChannelID:  "chan-old",
		ResourceID: "res-old",
		ExpiresAt:  time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
		RenewedAt:  time.Date(2026, 5, 25, 0, 0, 0, 0, time.UTC),
	}}}
	channels := &fakeChannelService{}

	r := testRenewer(registry, channels)
	n, err := r.RenewExpiring(context.Background(), false)
	if err != nil {
		t.Fatalf("RenewExpiring failed: %v", err)
	}
	if n != 1 {
		t.Errorf("renewed = %d, want 1", n)
	}
	if len(channels.watched) != 1 || channels.watched[0] != "file-1" {
		t.Errorf("watched = %v, want [file-1]", channels.watched)
	}
	if len(channels.stopped) != 1 || channels.stopped[0] != "chan-old" {
		t.Errorf("stopped = %v, want [chan-old]", channels.stopped)
	}
	if len(registry.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(registry.upserts))
	}
	rec := registry.upserts[0]
	if rec.ChannelID != "chan-new-file-1" || rec.ResourceID != "res-new-file-1" {
		t.Errorf("recorded channel = %+v", rec)
	}
	if !rec.ExpiresAt.Equal(time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ExpiresAt = %v", rec.ExpiresAt)
	}
}

func TestRenewExpiringHonorsFloor(t *testing.T) {
	registry := &fakeWatchRegistry{expiring: []domain.SheetWatch{{
		FileID:    "file-1",
		ChannelID: "chan-old",
		// renewed 10 minutes ago, inside the 1h floor
		RenewedAt: time.Date(2026, 6, 1, 11, 50, 0, 0, time.UTC),
	}}}
	channels := &fakeChannelService{}

	r := testRenewer(registry, channels)
	n, err := r.RenewExpiring(context.Background(), false)
	if err != nil {
		t.Fatalf("RenewExpiring failed: %v", err)
	}
	if n != 0 || len(channels.watched) != 0 {
		t.Errorf("floor ignored: renewed=%d watched=%v", n, channels.watched)
	}

	// force overrides the floor
	n, err = r.RenewExpiring(context.Background(), true)
	if err != nil {
		t.Fatalf("forced RenewExpiring failed: %v", err)
	}
	if n != 1 {
		t.Errorf("forced renewed = %d, want 1", n)
	}
}

func TestRenewExpiringRegistrationFailure(t *testing.T) {
	registry := &fakeWatchRegistry{expiring: []domain.SheetWatch{{
		FileID:    "file-1",
		ChannelID: "chan-old",
		RenewedAt: time.Date(2026, 5, 25, 0, 0, 0, 0, time.UTC),
	}}}
	channels := &fakeChannelService{watchErr: errors.New("quota exceeded")}

	r := testRenewer(registry, channels)
	n, err := r.RenewExpiring(context.Background(), false)
	if err != nil {
		t.Fatalf("sweep errored instead of continuing: %v", err)
	}
	if n != 0 {
		t.Errorf("renewed = %d, want 0", n)
	}
	if len(registry.upserts) != 0 {
		t.Error("recorded a channel that was never registered")
	}
	if len(channels.stopped) != 0 {
		t.Error("stopped the old channel before a replacement existed")
	}
}

func TestRenewerStartStop(t *testing.T) {
	r := testRenewer(&fakeWatchRegistry{}, &fakeChannelService{})

	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("second Start did not error")
	}
	r.Stop()
	r.Stop()
}

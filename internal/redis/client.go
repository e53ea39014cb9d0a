package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-device/config"
	"github.com/mossy-p/webrtc-device/internal/logutil"
	"github.com/mossy-p/webrtc-device/internal/models"
)

// SnapshotSource supplies the status to report
type SnapshotSource interface {
	Snapshot() models.RoomSnapshot
}

type statusStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Report is the published status document
type Report struct {
	Device    string              `json:"device"`
	Room      models.RoomSnapshot `json:"room"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Reporter periodically publishes the device status to Redis
type Reporter struct {
	client   *redis.Client
	store    statusStore
	key      string
	interval time.Duration
	log      logging.LeveledLogger
	now      func() time.Time
}

// Connect initializes the Redis client and checks the connection
func Connect(ctx context.Context, cfg config.RedisConfig, factory logging.LoggerFactory) (*Reporter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r := newReporter(client, cfg, factory)
	r.client = client
	return r, nil
}

func newReporter(store statusStore, cfg config.RedisConfig, factory logging.LoggerFactory) *Reporter {
	interval := cfg.ReportInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{
		store:    store,
		key:      cfg.StatusKey,
		interval: interval,
		log:      logutil.Scoped(factory, "redis"),
		now:      time.Now,
	}
}

// Report publishes one status document under the device's key. It expires after three report
// intervals so a dead device drops out of the fleet view.
func (r *Reporter) Report(ctx context.Context, device string, snapshot models.RoomSnapshot) error {
	data, err := json.Marshal(Report{Device: device, Room: snapshot, UpdatedAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := r.store.Set(ctx, r.key+":"+device, data, 3*r.interval).Err(); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Run reports the source's snapshot every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, device string, source func() SnapshotSource) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if s := source(); s != nil {
			if err := r.Report(ctx, device, s.Snapshot()); err != nil && ctx.Err() == nil {
				r.log.Warnf("status report failed: %v", err)
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the Redis connection
func (r *Reporter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

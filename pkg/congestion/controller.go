package congestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ControllerConfig tunes the watermark policy.
type ControllerConfig struct {
	// Window is the hub retention window.
	Window time.Duration
	// WorkerHighWatermark is the worker-wide bytes/sec above which users get
	// throttled; WorkerLowWatermark releases them.
	WorkerHighWatermark float64
	WorkerLowWatermark  float64
	// UserHighWatermark selects which users to throttle while the worker is
	// above its high watermark.
	UserHighWatermark float64
	// CheckInterval drives the Run loop.
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// Controller owns the shared worker hub and the per-user contexts, and flips
// congestion flags from watermark comparisons. It is the control policy the
// data path polls through UserContext.InCongestionControl.
type Controller struct {
	cfg       ControllerConfig
	workerHub *BufferStatusHub
	reg       prometheus.Registerer
	logger    *slog.Logger

	mu    sync.Mutex
	users map[UserIdentifier]*UserContext
}

// NewController creates a controller with an empty user set.
func NewController(cfg ControllerConfig, reg prometheus.Registerer) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:       cfg,
		workerHub: NewBufferStatusHub(cfg.Window),
		reg:       reg,
		logger:    logger,
		users:     make(map[UserIdentifier]*UserContext),
	}
}

// UserContext returns the context for user, creating and registering it on
// first use.
func (c *Controller) UserContext(user UserIdentifier) *UserContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.users[user]; ok {
		return ctx
	}
	ctx := NewUserContext(user, NewBufferStatusHub(c.cfg.Window), c.workerHub, c.reg)
	c.users[user] = ctx
	return ctx
}

// WorkerHub exposes the shared aggregate hub.
func (c *Controller) WorkerHub() *BufferStatusHub {
	return c.workerHub
}

// CheckCongestion applies the watermark policy once.
func (c *Controller) CheckCongestion() {
	workerRate := c.workerHub.AvgBytesPerSec()
	c.mu.Lock()
	defer c.mu.Unlock()
	if workerRate > c.cfg.WorkerHighWatermark {
		for _, ctx := range c.users {
			if ctx.UserHub().AvgBytesPerSec() > c.cfg.UserHighWatermark && !ctx.InCongestionControl() {
				c.logger.Info("congestion control on",
					"user", ctx.User().String(),
					"worker_rate", workerRate)
				ctx.OnCongestionControl()
			}
		}
		return
	}
	if workerRate < c.cfg.WorkerLowWatermark {
		for _, ctx := range c.users {
			if ctx.InCongestionControl() {
				c.logger.Info("congestion control off",
					"user", ctx.User().String(),
					"worker_rate", workerRate)
				ctx.OffCongestionControl()
			}
		}
	}
}

// Run evaluates the policy on every tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckCongestion()
		}
	}
}

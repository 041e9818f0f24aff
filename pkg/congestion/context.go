package congestion

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UserIdentifier names a producing user within a tenant.
type UserIdentifier struct {
	TenantID string
	Name     string
}

func (u UserIdentifier) String() string {
	return u.TenantID + "/" + u.Name
}

// UserContext tracks one user's congestion state. Ingestion events feed both
// the user's own hub and the shared worker-wide hub; an external control policy
// flips the flag through On/Off.
type UserContext struct {
	flag      atomic.Bool
	user      UserIdentifier
	userHub   *BufferStatusHub
	workerHub *BufferStatusHub
	now       func() time.Time
}

// NewUserContext builds a context and registers the user's produce-rate gauge.
// The gauge value is computed from the hub on every scrape, never cached.
func NewUserContext(user UserIdentifier, userHub, workerHub *BufferStatusHub, reg prometheus.Registerer) *UserContext {
	c := &UserContext{
		user:      user,
		userHub:   userHub,
		workerHub: workerHub,
		now:       time.Now,
	}
	if reg != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "shuffle_user_produce_bytes_per_second",
			Help: "Rolling average produce rate for one user.",
			ConstLabels: prometheus.Labels{
				"tenant": user.TenantID,
				"user":   user.Name,
			},
		}, userHub.AvgBytesPerSec))
	}
	return c
}

// UpdateProduceBytes records one ingestion of numBytes at the current time in
// both the per-user and the shared hub.
func (c *UserContext) UpdateProduceBytes(numBytes int64) {
	now := c.now()
	c.userHub.Add(now, numBytes)
	c.workerHub.Add(now, numBytes)
}

// OnCongestionControl marks the user CONGESTED. Idempotent, last write wins.
func (c *UserContext) OnCongestionControl() {
	c.flag.Store(true)
}

// OffCongestionControl marks the user NORMAL. Idempotent, last write wins.
func (c *UserContext) OffCongestionControl() {
	c.flag.Store(false)
}

// InCongestionControl is a non-blocking poll of the congestion flag.
func (c *UserContext) InCongestionControl() bool {
	return c.flag.Load()
}

// UserHub exposes the per-user rate hub.
func (c *UserContext) UserHub() *BufferStatusHub {
	return c.userHub
}

// User returns the identity this context tracks.
func (c *UserContext) User() UserIdentifier {
	return c.user
}

package resource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/logger"
)

// Sleep levels understood by the tenant sleep endpoint.
const (
	// SleepLevelHostRAM offloads model weights to host memory (fast wake).
	SleepLevelHostRAM = 1
	// SleepLevelDiscard drops the weights entirely (slow wake, minimal RAM).
	SleepLevelDiscard = 2
)

// Tenant is a named GPU-resident model-serving process.
type Tenant struct {
	Name         string
	URL          string
	Model        string
	Container    string
	StartTimeout time.Duration
}

// Controller arbitrates exclusive GPU access across the fixed tenant set.
// The orchestrator is the only permitted caller of its mutating operations;
// no other component may start, stop, sleep or wake a tenant.
type Controller struct {
	client        *resty.Client
	tenants       map[string]Tenant
	sup           Supervisor
	healthTimeout time.Duration
	pollInterval  time.Duration
	releaseSettle time.Duration
}

// NewController builds a controller over the configured tenant set.
func NewController(cfg *config.ResourceConfig, sup Supervisor) *Controller {
	client := resty.New()
	client.SetTimeout(cfg.HTTPTimeout)

	tenants := make(map[string]Tenant, len(cfg.Tenants))
	for name, tc := range cfg.Tenants {
		tenants[name] = Tenant{
			Name:         name,
			URL:          tc.URL,
			Model:        tc.Model,
			Container:    tc.Container,
			StartTimeout: tc.StartTimeout,
		}
	}

	return &Controller{
		client:        client,
		tenants:       tenants,
		sup:           sup,
		healthTimeout: cfg.HealthTimeout,
		pollInterval:  cfg.PollInterval,
		releaseSettle: cfg.ReleaseSettle,
	}
}

// logFrom picks up the caller's context fields (job, stage) so tenant
// transitions are attributable to the stage that demanded them.
func (c *Controller) logFrom(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx).WithField(logger.FieldComponent, "resource")
}

// StartBudget returns the health budget for bringing the named tenants up:
// the largest configured start timeout among them, floored at 30s.
func (c *Controller) StartBudget(names []string) time.Duration {
	budget := 30 * time.Second
	for _, name := range names {
		if t, ok := c.tenants[name]; ok && t.StartTimeout > budget {
			budget = t.StartTimeout
		}
	}
	return budget
}

// TenantNames returns the configured tenant names, sorted.
func (c *Controller) TenantNames() []string {
	names := make([]string, 0, len(c.tenants))
	for name := range c.tenants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Controller) tenant(name string) (Tenant, error) {
	t, ok := c.tenants[name]
	if !ok {
		return Tenant{}, fmt.Errorf("unknown tenant %q", name)
	}
	return t, nil
}

// IsHealthy probes the tenant health endpoint. It never returns an error;
// an unreachable tenant is simply not healthy.
func (c *Controller) IsHealthy(ctx context.Context, name string) bool {
	t, err := c.tenant(name)
	if err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.client.R().SetContext(probeCtx).Get(t.URL + "/health")
	if err != nil {
		return false
	}
	return resp.StatusCode() == 200
}

// Sleep offloads the tenant's model weights without stopping the process.
// This does not release GPU memory and must not substitute for Stop when
// another tenant needs that memory.
func (c *Controller) Sleep(ctx context.Context, name string, level int) error {
	t, err := c.tenant(name)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("level", strconv.Itoa(level)).
		Post(t.URL + "/sleep")
	if err != nil {
		return fmt.Errorf("sleep %s: %w", t.Model, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("sleep %s: HTTP %d", t.Model, resp.StatusCode())
	}

	c.logFrom(ctx).WithFields(logger.Fields{logger.FieldTenant: name, "level": level}).Info("Tenant asleep")
	return nil
}

// Wake restores a sleeping tenant's model weights.
func (c *Controller) Wake(ctx context.Context, name string) error {
	t, err := c.tenant(name)
	if err != nil {
		return err
	}

	resp, err := c.client.R().SetContext(ctx).Post(t.URL + "/wake_up")
	if err != nil {
		return fmt.Errorf("wake %s: %w", t.Model, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("wake %s: HTTP %d", t.Model, resp.StatusCode())
	}

	c.logFrom(ctx).WithField(logger.FieldTenant, name).Info("Tenant awake")
	return nil
}

// Stop halts the tenant process, releasing its GPU memory. Without a
// process supervisor it degrades to sleep, which keeps the GPU allocation;
// the degradation is logged, not failed.
func (c *Controller) Stop(ctx context.Context, name string) error {
	t, err := c.tenant(name)
	if err != nil {
		return err
	}

	if !c.sup.Available() {
		c.logFrom(ctx).WithField(logger.FieldTenant, name).
			Warn("No process supervisor, sleeping tenant instead; GPU memory NOT released")
		return c.Sleep(ctx, name, SleepLevelHostRAM)
	}

	if err := c.sup.Stop(ctx, t.Container); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	c.logFrom(ctx).WithFields(logger.Fields{logger.FieldTenant: name, "container": t.Container}).Info("Tenant stopped")
	return nil
}

// Start launches the tenant process. Without a process supervisor it
// degrades to wake.
func (c *Controller) Start(ctx context.Context, name string) error {
	t, err := c.tenant(name)
	if err != nil {
		return err
	}

	if !c.sup.Available() {
		return c.Wake(ctx, name)
	}

	if err := c.sup.Start(ctx, t.Container); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	c.logFrom(ctx).WithFields(logger.Fields{logger.FieldTenant: name, "container": t.Container}).Info("Tenant started")
	return nil
}

// WaitHealthy polls every named tenant until all are healthy or the timeout
// elapses.
func (c *Controller) WaitHealthy(ctx context.Context, names []string, timeout time.Duration) error {
	if len(names) == 0 {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		allHealthy := true
		for _, name := range names {
			if !c.IsHealthy(ctx, name) {
				allHealthy = false
				break
			}
		}
		if allHealthy {
			c.logFrom(ctx).WithField("tenants", names).Info("All required tenants healthy")
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: tenants %v not healthy after %s", domain.ErrResourceTimeout, names, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// EnsureOnly is the GPU-exclusivity gate between stages: it stops every
// tenant not in required, starts every required tenant and blocks until all
// required tenants are healthy or the timeout elapses. Individual tenant
// failures do not abort the others; overall success requires every required
// tenant to end healthy.
func (c *Controller) EnsureOnly(ctx context.Context, required []string, timeout time.Duration) error {
	want := make(map[string]bool, len(required))
	for _, name := range required {
		if _, err := c.tenant(name); err != nil {
			return err
		}
		want[name] = true
	}

	c.logFrom(ctx).WithField("tenants", required).Info("Ensuring exclusive tenancy")

	for _, name := range c.TenantNames() {
		if want[name] {
			continue
		}
		if err := c.Stop(ctx, name); err != nil {
			c.logFrom(ctx).WithField(logger.FieldTenant, name).WithError(err).Error("Failed to stop tenant")
		}
	}

	// Let the driver finish releasing GPU memory before loading the next
	// model. Tunable via resource.release_settle.
	if c.releaseSettle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.releaseSettle):
		}
	}

	for _, name := range required {
		if err := c.Start(ctx, name); err != nil {
			c.logFrom(ctx).WithField(logger.FieldTenant, name).WithError(err).Error("Failed to start tenant")
		}
	}

	return c.WaitHealthy(ctx, required, timeout)
}

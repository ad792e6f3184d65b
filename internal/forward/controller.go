package forward

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/portward/internal/natmap"
	"github.com/HerbHall/portward/internal/settings"
	"github.com/HerbHall/portward/pkg/plugin"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultClearInterval is how often the gateway dedup set is wiped so
// failed or expired gateways get retried.
const DefaultClearInterval = 10 * time.Minute

// Controller drives gateway discovery and keeps port-forwarding rules
// in sync with the forwarding settings. It is safe for concurrent use.
type Controller struct {
	logger        *zap.Logger
	nat           natmap.Client
	settings      settings.Provider
	host          HostInfo
	bus           plugin.EventBus
	clock         clock.Clock
	clearInterval time.Duration

	mu          sync.Mutex // guards lifecycle state below
	running     bool
	unsubscribe func()
	tickerStop  chan struct{}
	fingerprint string

	seenMu sync.Mutex
	seen   map[string]struct{}

	disposed atomic.Bool
	wg       sync.WaitGroup
}

// NewController creates a controller. bus may be nil; events are then
// simply not published. clk may be nil to use real time.
func NewController(logger *zap.Logger, nat natmap.Client, provider settings.Provider, host HostInfo, bus plugin.EventBus, clk clock.Clock, clearInterval time.Duration) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if clearInterval <= 0 {
		clearInterval = DefaultClearInterval
	}
	return &Controller{
		logger:        logger,
		nat:           nat,
		settings:      provider,
		host:          host,
		bus:           bus,
		clock:         clk,
		clearInterval: clearInterval,
		seen:          make(map[string]struct{}),
	}
}

// Start reads the live settings and, when forwarding is enabled, begins
// gateway discovery. With forwarding or remote access disabled it
// records the fingerprint and stays stopped. A settings read failure
// propagates to the caller.
func (c *Controller) Start(ctx context.Context) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	fw, err := c.settings.Forwarding(ctx)
	if err != nil {
		return fmt.Errorf("start forwarding: %w", err)
	}
	c.fingerprint = configFingerprint(fw, c.host)

	if !fw.EnableForwarding || !fw.EnableRemoteAccess {
		c.logger.Debug("port forwarding disabled, discovery not started",
			zap.Bool("enable_forwarding", fw.EnableForwarding),
			zap.Bool("enable_remote_access", fw.EnableRemoteAccess),
		)
		return nil
	}

	c.unsubscribe = c.nat.Subscribe(c.onGatewayFound)
	if err := c.nat.StartDiscovery(); err != nil {
		c.unsubscribe()
		c.unsubscribe = nil
		return fmt.Errorf("start discovery: %w", err)
	}

	c.tickerStop = make(chan struct{})
	c.wg.Add(1)
	go c.clearLoop(c.tickerStop)

	c.running = true
	c.logger.Info("port forwarding started",
		zap.Duration("clear_interval", c.clearInterval))
	return nil
}

// Stop tears down discovery completely: subscription, discovery
// session, clear ticker, and the dedup set. Idempotent, and leaves the
// controller ready for a later Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if err := c.nat.StopDiscovery(); err != nil {
		c.logger.Warn("stop discovery", zap.Error(err))
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}

	close(c.tickerStop)
	c.tickerStop = nil
	c.wg.Wait()

	c.seenMu.Lock()
	c.seen = make(map[string]struct{})
	c.seenMu.Unlock()

	c.running = false
	c.logger.Info("port forwarding stopped")
	return nil
}

// Close disposes the controller. After Close every gateway notification
// fails with ErrDisposed. Safe to call more than once.
func (c *Controller) Close() error {
	if c.disposed.Swap(true) {
		return nil
	}
	return c.Stop()
}

// OnConfigurationUpdated is the settings.updated handler. The new
// fingerprint is always recorded; a restart only happens when a
// previous non-empty fingerprint existed and differs, so the first
// update after boot never restarts a session that just started with
// the same configuration.
func (c *Controller) OnConfigurationUpdated(ctx context.Context) {
	if c.disposed.Load() {
		c.logger.Debug("ignoring configuration update on disposed controller")
		return
	}

	fw, err := c.settings.Forwarding(ctx)
	if err != nil {
		c.logger.Error("failed to read settings on configuration update", zap.Error(err))
		return
	}
	newFP := configFingerprint(fw, c.host)

	c.mu.Lock()
	oldFP := c.fingerprint
	c.fingerprint = newFP
	c.mu.Unlock()

	if oldFP == "" || !fingerprintChanged(oldFP, newFP) {
		return
	}

	c.logger.Info("forwarding configuration changed, restarting discovery")
	if err := c.Stop(); err != nil {
		c.logger.Error("restart: stop failed", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		c.logger.Error("restart: start failed", zap.Error(err))
		return
	}
	c.publish(ctx, TopicRestarted, RestartEvent{Fingerprint: newFP})
}

// onGatewayFound handles one gateway notification. The discovery client
// already delivers each notification on its own goroutine. Errors are
// logged here and never escape.
func (c *Controller) onGatewayFound(gw natmap.Gateway) {
	if err := c.handleGateway(context.Background(), gw); err != nil {
		c.logger.Error("gateway handling failed",
			zap.String("gateway", gw.Endpoint()),
			zap.Error(err),
		)
	}
}

// handleGateway dedups on the gateway endpoint with an atomic
// add-if-absent: exactly one notification per endpoint wins until the
// next clear, losers return silently.
func (c *Controller) handleGateway(ctx context.Context, gw natmap.Gateway) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	endpoint := gw.Endpoint()

	c.seenMu.Lock()
	if _, dup := c.seen[endpoint]; dup {
		c.seenMu.Unlock()
		duplicateGateways.Inc()
		return nil
	}
	c.seen[endpoint] = struct{}{}
	c.seenMu.Unlock()

	gatewaysDiscovered.Inc()
	c.logger.Info("gateway discovered", zap.String("gateway", endpoint))
	c.publish(ctx, TopicGatewayDiscovered, GatewayEvent{Endpoint: endpoint})

	return c.createRules(ctx, gw)
}

// clearLoop wipes the dedup set once per clear interval. The first
// clear happens one full interval after start.
func (c *Controller) clearLoop(stop chan struct{}) {
	defer c.wg.Done()

	ticker := c.clock.Ticker(c.clearInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.seenMu.Lock()
			n := len(c.seen)
			c.seen = make(map[string]struct{})
			c.seenMu.Unlock()
			c.logger.Debug("cleared gateway dedup set", zap.Int("gateways", n))
		}
	}
}

// publish emits an event when a bus is wired.
func (c *Controller) publish(ctx context.Context, topic string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    PluginName,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	Running     bool     `json:"running"`
	Disposed    bool     `json:"disposed"`
	Fingerprint string   `json:"fingerprint"`
	Gateways    []string `json:"gateways"`
}

// Status reports the controller state and the currently deduped
// gateway endpoints.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.running
	fp := c.fingerprint
	c.mu.Unlock()

	return Status{
		Running:     running,
		Disposed:    c.disposed.Load(),
		Fingerprint: fp,
		Gateways:    c.Gateways(),
	}
}

// Gateways returns the endpoints currently held in the dedup set.
func (c *Controller) Gateways() []string {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()

	endpoints := make([]string, 0, len(c.seen))
	for ep := range c.seen {
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

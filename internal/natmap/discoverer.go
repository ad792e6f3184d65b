package natmap

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koron/go-ssdp"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Client = (*Discoverer)(nil)

// Discoverer is the production Client. It combines periodic active UPnP
// sweeps, passive SSDP alive monitoring, and a NAT-PMP probe of the
// default gateway. Every found gateway is delivered to each subscriber
// on its own goroutine.
type Discoverer struct {
	logger         *zap.Logger
	clock          clock.Clock
	searchInterval time.Duration
	timeout        time.Duration

	// sweep and startMonitor are swapped out in tests.
	sweep        func(ctx context.Context) []Gateway
	startMonitor func() (*ssdp.Monitor, error)

	mu      sync.Mutex
	subs    map[int]func(Gateway)
	nextID  int
	running bool
	cancel  context.CancelFunc
	monitor *ssdp.Monitor
	wg      sync.WaitGroup
}

// NewDiscoverer creates a Discoverer. searchInterval controls how often
// active sweeps run; timeout bounds the NAT-PMP probe.
func NewDiscoverer(logger *zap.Logger, clk clock.Clock, searchInterval, timeout time.Duration) *Discoverer {
	if clk == nil {
		clk = clock.New()
	}
	d := &Discoverer{
		logger:         logger,
		clock:          clk,
		searchInterval: searchInterval,
		timeout:        timeout,
		subs:           make(map[int]func(Gateway)),
	}
	d.sweep = d.networkSweep
	d.startMonitor = func() (*ssdp.Monitor, error) {
		return startSSDPMonitor(d.logger, d.deliver)
	}
	return d
}

// Subscribe registers a handler for discovered gateways. The returned
// function removes the subscription.
func (d *Discoverer) Subscribe(handler func(Gateway)) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = handler
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// StartDiscovery begins the sweep loop and the SSDP monitor. Calling it
// while already running is a no-op.
func (d *Discoverer) StartDiscovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true

	monitor, err := d.startMonitor()
	if err != nil {
		// Sweeps still find gateways without the monitor.
		d.logger.Warn("ssdp monitor unavailable", zap.Error(err))
	} else {
		d.monitor = monitor
	}

	d.wg.Add(1)
	go d.sweepLoop(ctx)

	d.logger.Info("gateway discovery started",
		zap.Duration("search_interval", d.searchInterval))
	return nil
}

// StopDiscovery stops the sweep loop and the SSDP monitor. Idempotent.
func (d *Discoverer) StopDiscovery() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	monitor := d.monitor
	d.cancel = nil
	d.monitor = nil
	d.mu.Unlock()

	cancel()
	if monitor != nil {
		_ = monitor.Close()
	}
	d.wg.Wait()

	d.logger.Info("gateway discovery stopped")
	return nil
}

// sweepLoop runs an immediate sweep and then one per search interval.
func (d *Discoverer) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	d.runSweep(ctx)

	ticker := d.clock.Ticker(d.searchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runSweep(ctx)
		}
	}
}

func (d *Discoverer) runSweep(ctx context.Context) {
	gateways := d.sweep(ctx)
	d.logger.Debug("discovery sweep finished", zap.Int("gateways", len(gateways)))
	for _, gw := range gateways {
		d.deliver(gw)
	}
}

// networkSweep performs one active discovery pass.
func (d *Discoverer) networkSweep(ctx context.Context) []Gateway {
	gateways := upnpSweep()

	if ctx.Err() != nil {
		return gateways
	}

	pmp, err := natpmpProbe(d.timeout)
	if err != nil {
		d.logger.Debug("nat-pmp probe failed", zap.Error(err))
	} else {
		gateways = append(gateways, pmp)
	}

	return gateways
}

// deliver fans a gateway out to all current subscribers, each on its
// own goroutine so a slow handler cannot stall discovery.
func (d *Discoverer) deliver(gw Gateway) {
	d.mu.Lock()
	handlers := make([]func(Gateway), 0, len(d.subs))
	for _, h := range d.subs {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		go h(gw)
	}
}

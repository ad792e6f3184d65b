// Package forward is the Portward forwarding module. It watches the
// forwarding settings, discovers NAT gateways, and keeps idempotent
// port-forwarding rules for the local HTTP/HTTPS listeners.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/HerbHall/portward/internal/natmap"
	"github.com/HerbHall/portward/internal/settings"
	"github.com/HerbHall/portward/pkg/plugin"
	"github.com/benbjohnson/clock"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// PluginName is the registry name of the forward module.
const PluginName = "forward"

// RolePortMapping marks this plugin as the port-mapping provider.
const RolePortMapping = "port_mapping"

// Default timings, overridable through the plugin config section.
const (
	defaultSearchInterval = 5 * time.Minute
	defaultMappingTimeout = 10 * time.Second
	pingTimeout           = 2 * time.Second
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module implements the forward plugin.
type Module struct {
	host HostInfo

	logger     *zap.Logger
	bus        plugin.EventBus
	nat        natmap.Client
	controller *Controller

	unsubSettings func()
}

// New creates the forward module. host is the server config, which
// knows the local listener ports.
func New(host HostInfo) *Module {
	return &Module{host: host}
}

// Info returns plugin metadata.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         PluginName,
		Version:      "1.0.0",
		Description:  "Automatic NAT port forwarding for the local listeners",
		Dependencies: []string{settings.PluginName},
		Required:     true,
		Roles:        []string{RolePortMapping},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

// Init resolves the settings provider and builds the discovery client
// and controller from the plugin config section.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	provider, err := resolveSettings(deps.Plugins)
	if err != nil {
		return err
	}

	clearInterval := DefaultClearInterval
	searchInterval := defaultSearchInterval
	mappingTimeout := defaultMappingTimeout
	if deps.Config != nil {
		if d := deps.Config.GetDuration("clear_interval"); d > 0 {
			clearInterval = d
		}
		if d := deps.Config.GetDuration("upnp_search_interval"); d > 0 {
			searchInterval = d
		}
		if d := deps.Config.GetDuration("mapping_timeout"); d > 0 {
			mappingTimeout = d
		}
	}

	if m.nat == nil {
		m.nat = natmap.NewDiscoverer(m.logger.Named("natmap"), clock.New(), searchInterval, mappingTimeout)
	}
	m.controller = NewController(m.logger, m.nat, provider, m.host, m.bus, clock.New(), clearInterval)
	return nil
}

// resolveSettings finds the settings provider through the plugin registry.
func resolveSettings(resolver plugin.PluginResolver) (settings.Provider, error) {
	if resolver == nil {
		return nil, fmt.Errorf("forward: plugin resolver is required")
	}
	for _, p := range resolver.ResolveByRole(settings.RoleSettingsStore) {
		if provider, ok := p.(settings.Provider); ok {
			return provider, nil
		}
	}
	return nil, fmt.Errorf("forward: no plugin fills the %q role", settings.RoleSettingsStore)
}

// Start subscribes to settings changes and starts the controller.
func (m *Module) Start(ctx context.Context) error {
	m.unsubSettings = m.bus.Subscribe(settings.TopicUpdated, func(ctx context.Context, _ plugin.Event) {
		m.controller.OnConfigurationUpdated(ctx)
	})
	return m.controller.Start(ctx)
}

// Stop halts discovery but keeps the controller usable for a later Start.
func (m *Module) Stop(_ context.Context) error {
	if m.unsubSettings != nil {
		m.unsubSettings()
		m.unsubSettings = nil
	}
	return m.controller.Stop()
}

// Close disposes the controller for good. Called by the server on
// final shutdown, after Stop.
func (m *Module) Close() error {
	if m.controller == nil {
		return nil
	}
	return m.controller.Close()
}

// Controller exposes the controller for diagnostics and tests.
func (m *Module) Controller() *Controller {
	return m.controller
}

// Routes exposes the forward HTTP API, mounted under /api/v1/forward.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "GET", Path: "/gateways", Handler: m.handleGateways},
	}
}

// handleStatus returns the controller snapshot.
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.controller.Status())
}

// GatewayDiagnostic is one row of the gateway diagnostics response.
type GatewayDiagnostic struct {
	Endpoint  string `json:"endpoint"`
	Reachable bool   `json:"reachable"`
	RTTMillis int64  `json:"rtt_ms,omitempty"`
}

// handleGateways ICMP-probes every deduped gateway so operators can
// tell an unreachable gateway from one that rejects mappings.
func (m *Module) handleGateways(w http.ResponseWriter, r *http.Request) {
	endpoints := m.controller.Gateways()
	diags := make([]GatewayDiagnostic, 0, len(endpoints))

	for _, ep := range endpoints {
		diag := GatewayDiagnostic{Endpoint: ep}
		if rtt, err := pingHost(r.Context(), gatewayHost(ep)); err == nil {
			diag.Reachable = true
			diag.RTTMillis = rtt.Milliseconds()
		}
		diags = append(diags, diag)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(diags)
}

// gatewayHost strips the port from a UPnP endpoint. NAT-PMP endpoints
// are bare IPs already.
func gatewayHost(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}

// pingHost sends a single ICMP echo and returns the round-trip time.
func pingHost(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	// Windows requires privileged mode for ICMP.
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
	case <-ctx.Done():
		pinger.Stop()
		return 0, ctx.Err()
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no reply from %s", host)
	}
	return stats.AvgRtt, nil
}

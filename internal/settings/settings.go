// Package settings is the Portward settings module. It owns the
// persisted port-forwarding settings and notifies the rest of the
// server when they change.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/portward/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PluginName is the registry name of the settings module.
const PluginName = "settings"

// RoleSettingsStore marks the plugin that other modules resolve to read
// forwarding settings.
const RoleSettingsStore = "settings_store"

// TopicUpdated is published after any settings change is committed.
// Consumers re-read the live settings; the event carries no payload.
const TopicUpdated = "settings.updated"

// Forwarding holds the user-facing port-forwarding settings.
type Forwarding struct {
	EnableForwarding   bool `json:"enable_forwarding"`
	EnableRemoteAccess bool `json:"enable_remote_access"`
	PublicHTTPPort     int  `json:"public_http_port"`
	PublicHTTPSPort    int  `json:"public_https_port"`
}

// Defaults returns the forwarding settings used on first run.
func Defaults() Forwarding {
	return Forwarding{
		EnableForwarding:   false,
		EnableRemoteAccess: true,
		PublicHTTPPort:     8096,
		PublicHTTPSPort:    8920,
	}
}

// Provider is the read interface other modules use to fetch live settings.
type Provider interface {
	Forwarding(ctx context.Context) (Forwarding, error)
}

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
	_ Provider            = (*Module)(nil)
)

// Module implements the settings plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	store  plugin.Store

	mu     sync.RWMutex
	cached *Forwarding
}

// New creates the settings module.
func New() *Module {
	return &Module{}
}

// Info returns plugin metadata.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Persisted port-forwarding settings with change notifications",
		Required:    true,
		Roles:       []string{RoleSettingsStore},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init stores dependencies and runs schema migrations.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.store = deps.Store

	if m.store == nil {
		return fmt.Errorf("settings: store dependency is required")
	}

	if err := m.store.Migrate(ctx, PluginName, migrations()); err != nil {
		return fmt.Errorf("settings migrations: %w", err)
	}
	return nil
}

// Start is a no-op; the module serves reads as soon as Init completes.
func (m *Module) Start(_ context.Context) error {
	return nil
}

// Stop is a no-op.
func (m *Module) Stop(_ context.Context) error {
	return nil
}

// Forwarding returns the current forwarding settings. Reads hit the
// database once and are served from cache until the next Update.
func (m *Module) Forwarding(ctx context.Context) (Forwarding, error) {
	m.mu.RLock()
	if m.cached != nil {
		fw := *m.cached
		m.mu.RUnlock()
		return fw, nil
	}
	m.mu.RUnlock()

	fw, err := m.load(ctx)
	if err != nil {
		return Forwarding{}, err
	}

	m.mu.Lock()
	m.cached = &fw
	m.mu.Unlock()
	return fw, nil
}

// Update validates and persists new forwarding settings, records a
// revision row, invalidates the cache, and publishes TopicUpdated.
func (m *Module) Update(ctx context.Context, fw Forwarding) error {
	if err := validate(fw); err != nil {
		return err
	}

	snapshot, err := json.Marshal(fw)
	if err != nil {
		return fmt.Errorf("marshal settings snapshot: %w", err)
	}

	err = m.store.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE forward_settings
			SET enable_forwarding = ?, enable_remote_access = ?,
			    public_http_port = ?, public_https_port = ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = 1`,
			fw.EnableForwarding, fw.EnableRemoteAccess,
			fw.PublicHTTPPort, fw.PublicHTTPSPort,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO forward_settings_revisions (id, snapshot) VALUES (?, ?)",
			uuid.NewString(), string(snapshot),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save forwarding settings: %w", err)
	}

	m.mu.Lock()
	m.cached = &fw
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicUpdated,
			Source:    PluginName,
			Timestamp: time.Now(),
		})
	}

	m.logger.Info("forwarding settings updated",
		zap.Bool("enable_forwarding", fw.EnableForwarding),
		zap.Bool("enable_remote_access", fw.EnableRemoteAccess),
		zap.Int("public_http_port", fw.PublicHTTPPort),
		zap.Int("public_https_port", fw.PublicHTTPSPort),
	)
	return nil
}

// load reads the settings row from the database.
func (m *Module) load(ctx context.Context) (Forwarding, error) {
	var fw Forwarding
	err := m.store.DB().QueryRowContext(ctx, `
		SELECT enable_forwarding, enable_remote_access,
		       public_http_port, public_https_port
		FROM forward_settings WHERE id = 1`,
	).Scan(&fw.EnableForwarding, &fw.EnableRemoteAccess,
		&fw.PublicHTTPPort, &fw.PublicHTTPSPort)
	if err != nil {
		return Forwarding{}, fmt.Errorf("load forwarding settings: %w", err)
	}
	return fw, nil
}

// validate checks the port ranges.
func validate(fw Forwarding) error {
	if fw.PublicHTTPPort < 1 || fw.PublicHTTPPort > 65535 {
		return fmt.Errorf("public_http_port out of range: %d", fw.PublicHTTPPort)
	}
	if fw.PublicHTTPSPort < 1 || fw.PublicHTTPSPort > 65535 {
		return fmt.Errorf("public_https_port out of range: %d", fw.PublicHTTPSPort)
	}
	return nil
}

// Routes exposes the settings HTTP API, mounted under /api/v1/settings.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/forwarding", Handler: m.handleGetForwarding},
		{Method: "PUT", Path: "/forwarding", Handler: m.handlePutForwarding},
	}
}

func (m *Module) handleGetForwarding(w http.ResponseWriter, r *http.Request) {
	fw, err := m.Forwarding(r.Context())
	if err != nil {
		m.logger.Error("failed to read forwarding settings", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to read forwarding settings")
		return
	}
	writeJSON(w, http.StatusOK, fw)
}

func (m *Module) handlePutForwarding(w http.ResponseWriter, r *http.Request) {
	var fw Forwarding
	if err := json.NewDecoder(r.Body).Decode(&fw); err != nil {
		writeSettingsError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := m.Update(r.Context(), fw); err != nil {
		if err := validate(fw); err != nil {
			writeSettingsError(w, http.StatusBadRequest, err.Error())
			return
		}
		m.logger.Error("failed to update forwarding settings", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to save forwarding settings")
		return
	}

	writeJSON(w, http.StatusOK, fw)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSettingsError writes an RFC 7807 problem response.
func writeSettingsError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://portward.dev/problems/settings-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

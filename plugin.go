package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/relay/store"
)

// Plugin defines the interface for relay extensions.
// Plugins can hook into message admission to add custom behavior such
// as rate limiting, abuse scoring, or payload policy checks.
//
// For observing other operations (mailbox creation, drains), use the
// event system instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// AdmissionHook is called before/after a message is queued.
// This is the primary extension point for admission control.
type AdmissionHook interface {
	Plugin
	// BeforeAdmit is called before a message is queued. Return an error
	// to reject the message. The payload is opaque ciphertext; hooks see
	// only its size and the target mailbox id.
	BeforeAdmit(ctx context.Context, mailboxID string, size int) error
	// AfterAdmit is called after a message is successfully queued.
	// The message is already stored and cannot be rolled back.
	AfterAdmit(ctx context.Context, msg *store.EncryptedMessage) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all       []Plugin
	admission []AdmissionHook
	logger    *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(AdmissionHook); ok {
		r.admission = append(r.admission, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Hook execution helpers

func (r *pluginRegistry) beforeAdmit(ctx context.Context, mailboxID string, size int) error {
	for _, h := range r.admission {
		if err := h.BeforeAdmit(ctx, mailboxID, size); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeAdmit", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterAdmit(ctx context.Context, msg *store.EncryptedMessage) error {
	for _, h := range r.admission {
		if err := h.AfterAdmit(ctx, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterAdmit", Err: err}
		}
	}
	return nil
}

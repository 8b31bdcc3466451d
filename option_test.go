package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/relay/store"
)

func TestDefaultOptions(t *testing.T) {
	o := newOptions()

	if o.maxPayloadSize != DefaultMaxPayloadSize {
		t.Errorf("maxPayloadSize = %d, want %d", o.maxPayloadSize, DefaultMaxPayloadSize)
	}
	if o.inlineThreshold != DefaultInlineThreshold {
		t.Errorf("inlineThreshold = %d, want %d", o.inlineThreshold, DefaultInlineThreshold)
	}
	if o.receivePolicy != DrainOnReceive {
		t.Errorf("receivePolicy = %v, want DrainOnReceive", o.receivePolicy)
	}
	if o.strictAdmission {
		t.Error("strictAdmission should default to off")
	}
	if o.maxConcurrentSends != DefaultMaxConcurrentSends {
		t.Errorf("maxConcurrentSends = %d, want %d", o.maxConcurrentSends, DefaultMaxConcurrentSends)
	}
	if o.shutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdownTimeout = %v, want %v", o.shutdownTimeout, DefaultShutdownTimeout)
	}
	if o.expiry.MailboxTTL != store.DefaultMailboxTTL {
		t.Errorf("MailboxTTL = %v, want %v", o.expiry.MailboxTTL, store.DefaultMailboxTTL)
	}
	if o.expiry.MessageTTL != store.DefaultMessageTTL {
		t.Errorf("MessageTTL = %v, want %v", o.expiry.MessageTTL, store.DefaultMessageTTL)
	}
	if o.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if o.onEventPublishFailure == nil {
		t.Error("onEventPublishFailure should have a default handler")
	}
}

func TestLifetimeOptions(t *testing.T) {
	o := newOptions(
		WithMailboxTTL(7*24*time.Hour),
		WithMessageTTL(time.Hour),
	)
	if o.expiry.MailboxTTL != 7*24*time.Hour {
		t.Errorf("MailboxTTL = %v, want 168h", o.expiry.MailboxTTL)
	}
	if o.expiry.MessageTTL != time.Hour {
		t.Errorf("MessageTTL = %v, want 1h", o.expiry.MessageTTL)
	}

	// Non-positive durations are ignored
	o = newOptions(WithMailboxTTL(-time.Hour), WithMessageTTL(0))
	if o.expiry.MailboxTTL != store.DefaultMailboxTTL {
		t.Errorf("negative MailboxTTL should be ignored, got %v", o.expiry.MailboxTTL)
	}
	if o.expiry.MessageTTL != store.DefaultMessageTTL {
		t.Errorf("zero MessageTTL should be ignored, got %v", o.expiry.MessageTTL)
	}
}

func TestInlineThresholdClampedToPayloadCap(t *testing.T) {
	o := newOptions(
		WithMaxPayloadSize(1024),
		WithInlineThreshold(4096),
	)
	if o.inlineThreshold != 1024 {
		t.Errorf("inlineThreshold = %d, want clamped to 1024", o.inlineThreshold)
	}

	o = newOptions(
		WithMaxPayloadSize(4096),
		WithInlineThreshold(1024),
	)
	if o.inlineThreshold != 1024 {
		t.Errorf("inlineThreshold = %d, want 1024", o.inlineThreshold)
	}
}

func TestShutdownTimeoutMinimum(t *testing.T) {
	o := newOptions(WithShutdownTimeout(time.Millisecond))
	if o.shutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("sub-minimum timeout should be ignored, got %v", o.shutdownTimeout)
	}

	o = newOptions(WithShutdownTimeout(5 * time.Second))
	if o.shutdownTimeout != 5*time.Second {
		t.Errorf("shutdownTimeout = %v, want 5s", o.shutdownTimeout)
	}
}

func TestConcurrencyOptions(t *testing.T) {
	o := newOptions(WithMaxConcurrentSends(8))
	if o.maxConcurrentSends != 8 {
		t.Errorf("maxConcurrentSends = %d, want 8", o.maxConcurrentSends)
	}

	o = newOptions(WithMaxConcurrentSends(0))
	if o.maxConcurrentSends != DefaultMaxConcurrentSends {
		t.Errorf("zero maxConcurrentSends should be ignored, got %d", o.maxConcurrentSends)
	}
}

func TestNilGuards(t *testing.T) {
	o := newOptions(
		WithStore(nil),
		WithPayloadStore(nil),
		WithLogger(nil),
		WithPlugin(nil),
		WithEventPublishFailureHandler(nil),
	)
	if o.store != nil {
		t.Error("nil store should be ignored")
	}
	if o.payloads != nil {
		t.Error("nil payload store should be ignored")
	}
	if o.logger == nil {
		t.Error("nil logger should fall back to default")
	}
	if len(o.plugins) != 0 {
		t.Error("nil plugin should be ignored")
	}
	if o.onEventPublishFailure == nil {
		t.Error("nil failure handler should fall back to default")
	}
}

func TestSafeEventPublishFailureRecoversPanic(t *testing.T) {
	called := false
	o := newOptions(WithEventPublishFailureHandler(func(eventName string, err error) {
		called = true
		panic("handler bug")
	}))

	// Must not propagate the panic.
	o.safeEventPublishFailure(EventNameMessageQueued, errors.New("boom"))
	if !called {
		t.Error("handler should have been invoked")
	}
}

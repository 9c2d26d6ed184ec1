package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	ctrl "sigs.k8s.io/controller-runtime"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/metrics"
)

var log = ctrl.Log.WithName("dispatcher")

// Registry manages alert channels and fans every alert out to all of them
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates a new channel registry
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// NewRegistryFromConfig registers every channel enabled in cfg
func NewRegistryFromConfig(cfg ChannelsConfig) *Registry {
	r := NewRegistry()
	if cfg.Log {
		r.Register(NewLogChannel())
	}
	if cfg.Webhook != nil && cfg.Webhook.URL != "" {
		r.Register(NewWebhookChannel(*cfg.Webhook))
	}
	if cfg.Email != nil && cfg.Email.SMTPServer != "" {
		r.Register(NewEmailChannel(*cfg.Email))
	}
	return r
}

// Register adds a channel, replacing any channel with the same name
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Get retrieves a channel by name
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("no alert channel registered with name: %s", name)
	}
	return ch, nil
}

// Has checks if a channel is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[name]
	return ok
}

// Names returns all registered channel names in ascending order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch delivers alert to every channel. A failing channel does not stop
// delivery to the others; all failures are combined into one DispatchError.
func (r *Registry) Dispatch(ctx context.Context, alert workflowv1.Alert) error {
	r.mu.RLock()
	channels := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name() < channels[j].Name() })

	var errs error
	var failed []string
	for _, ch := range channels {
		if err := ch.Dispatch(ctx, alert); err != nil {
			metrics.DispatchErrors.WithLabelValues(ch.Name()).Inc()
			log.Error(err, "Alert delivery failed", "channel", ch.Name(), "alertType", alert.AlertType)
			failed = append(failed, ch.Name())
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	if errs != nil {
		return &DispatchError{AlertType: alert.AlertType, Channels: failed, Err: errs}
	}
	return nil
}

package channel

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered channel adapters and provides typed accessors
// for the optional capability interfaces. It must be created via NewRegistry
// and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[ChannelType]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType ChannelType) (Adapter, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// List returns all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		items = append(items, a)
	}
	return items
}

// Types returns all registered channel types.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	return items
}

// GetDescriptor returns the descriptor for the given channel type.
func (r *Registry) GetDescriptor(channelType ChannelType) (Descriptor, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

// ParseChannelType validates and normalizes a raw string into a registered
// ChannelType.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := normalizeChannelType(raw)
	if ct == "" {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	if _, ok := r.Get(ct); !ok {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	return ct, nil
}

// GetReceiver returns the WebhookReceiver for the given channel type, or nil
// if unsupported.
func (r *Registry) GetReceiver(channelType ChannelType) (WebhookReceiver, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	receiver, ok := adapter.(WebhookReceiver)
	return receiver, ok
}

// GetHandshakeResponder returns the HandshakeResponder for the given channel
// type, or nil if unsupported.
func (r *Registry) GetHandshakeResponder(channelType ChannelType) (HandshakeResponder, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	responder, ok := adapter.(HandshakeResponder)
	return responder, ok
}

// GetSender returns the TextSender for the given channel type, or nil if
// unsupported.
func (r *Registry) GetSender(channelType ChannelType) (TextSender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(TextSender)
	return sender, ok
}

// GetAckBuilder returns the AckBuilder for the given channel type, or nil if
// unsupported.
func (r *Registry) GetAckBuilder(channelType ChannelType) (AckBuilder, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	builder, ok := adapter.(AckBuilder)
	return builder, ok
}

// GetStreamSender returns the StreamSender for the given channel type, or nil
// if unsupported.
func (r *Registry) GetStreamSender(channelType ChannelType) (StreamSender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	streamSender, ok := adapter.(StreamSender)
	return streamSender, ok
}

// GetPollResponder returns the PollResponder for the given channel type, or
// nil if unsupported.
func (r *Registry) GetPollResponder(channelType ChannelType) (PollResponder, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	responder, ok := adapter.(PollResponder)
	return responder, ok
}

func normalizeChannelType(raw string) ChannelType {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return ""
	}
	return ChannelType(normalized)
}

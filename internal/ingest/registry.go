package ingest

import (
	"errors"
	"sort"
	"sync"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
)

// ErrUnknownInbox is returned for webhooks addressed to an unconfigured inbox.
var ErrUnknownInbox = errors.New("ingest: unknown inbox")

// Binding pairs an inbox with the adapter that reads its webhooks.
type Binding struct {
	Channel inbound.Channel
	Adapter inbound.Adapter
}

// Registry maps inbox ids to bindings.
type Registry struct {
	mu       sync.RWMutex
	bindings map[int64]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[int64]Binding)}
}

func (r *Registry) Register(ch inbound.Channel, a inbound.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[ch.InboxID] = Binding{Channel: ch, Adapter: a}
}

func (r *Registry) Lookup(inboxID int64) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[inboxID]
	if !ok {
		return Binding{}, ErrUnknownInbox
	}
	return b, nil
}

// Channels returns every registered channel ordered by inbox id.
func (r *Registry) Channels() []inbound.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]inbound.Channel, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b.Channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InboxID < out[j].InboxID })
	return out
}

package stub

import (
	"sync"

	"github.com/onflow/sectionnet/model/overlay"
)

// Filter decides whether a message from one node to another is delivered.
type Filter func(from, to overlay.Identifier) bool

// Hub connects the stub networks of a test. Messages between networks plugged
// into the same hub are delivered in memory.
type Hub struct {
	mu       sync.RWMutex
	networks map[overlay.Identifier]*Network
	filter   Filter
}

func NewNetworkHub() *Hub {
	return &Hub{networks: make(map[overlay.Identifier]*Network)}
}

// Plug makes a network reachable through the hub.
func (h *Hub) Plug(net *Network) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.networks[net.me.ID] = net
}

// Unplug makes a network unreachable, as if the node crashed.
func (h *Hub) Unplug(id overlay.Identifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.networks, id)
}

// GetNetwork returns the network of a node.
func (h *Hub) GetNetwork(id overlay.Identifier) (*Network, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	net, ok := h.networks[id]
	return net, ok
}

// SetFilter installs a delivery filter, or removes it when nil.
func (h *Hub) SetFilter(filter Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = filter
}

// route returns the network a message is delivered to. Filtered messages are
// silently dropped.
func (h *Hub) route(from, to overlay.Identifier) (*Network, bool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	net, ok := h.networks[to]
	if !ok {
		return nil, false, false
	}
	if h.filter != nil && !h.filter(from, to) {
		return nil, true, false
	}
	return net, true, true
}

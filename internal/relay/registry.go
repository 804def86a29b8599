package relay

import (
	"sync"

	"go.uber.org/zap"

	"studylink/pkg/types"
)

// Registry tracks connected peers and the last known status of every user.
// ARCHITECTURAL DISCOVERY: Pure connection management without routing logic
type Registry struct {
	mu       sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	peers    map[string]*Peer
	presence map[string]types.UserStatus
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		peers:    make(map[string]*Peer),
		presence: make(map[string]types.UserStatus),
		logger:   logger,
	}
}

// Register makes peer the connection for its user. A previous connection for
// the same user is closed.
func (r *Registry) Register(peer *Peer) error {
	if peer == nil {
		return ErrNilPeer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close existing connection asynchronously to prevent deadlock
	if existing, ok := r.peers[peer.UserID()]; ok && existing != peer {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Debug("failed to close replaced peer", zap.Error(err))
			}
		}()
	}
	r.peers[peer.UserID()] = peer
	return nil
}

// Unregister removes peer if it is still the registered connection for its
// user and reports whether it was.
func (r *Registry) Unregister(peer *Peer) bool {
	if peer == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// RACE CONDITION FIX: a replaced peer must not remove its successor
	if current, ok := r.peers[peer.UserID()]; !ok || current != peer {
		return false
	}
	delete(r.peers, peer.UserID())
	return true
}

// CloseAll closes every registered peer. Their read pumps unregister them.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			r.logger.Debug("failed to close peer", zap.String("user_id", p.UserID()), zap.Error(err))
		}
	}
}

// Get returns the connection of userID.
func (r *Registry) Get(userID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	return p, ok
}

// Others returns every peer except the one for userID.
func (r *Registry) Others(userID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != userID {
			out = append(out, p)
		}
	}
	return out
}

// SetStatus records status for userID and reports whether it changed.
func (r *Registry) SetStatus(userID string, status types.UserStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.statusLocked(userID) == status {
		return false
	}
	if status == types.StatusOffline {
		delete(r.presence, userID)
	} else {
		r.presence[userID] = status
	}
	return true
}

// Status returns the last status of userID; unknown users are offline.
func (r *Registry) Status(userID string) types.UserStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked(userID)
}

func (r *Registry) statusLocked(userID string) types.UserStatus {
	if s, ok := r.presence[userID]; ok {
		return s
	}
	return types.StatusOffline
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_connections": len(r.peers),
		"online":            0,
		"away":              0,
	}
	for _, s := range r.presence {
		stats[string(s)]++
	}
	return stats
}

package websocket

import "sync"

// Socket is the transport handle owned by a Connection. The gorilla-backed
// implementation lives in serve.go; tests substitute in-memory fakes so the
// relay can be driven without a network.
type Socket interface {
	// WriteJSON sends one envelope. Implementations must be safe for
	// concurrent use; the relay writes from the heartbeat goroutine and
	// from other connections' read loops.
	WriteJSON(v interface{}) error
	// Ping sends a transport-level ping control frame.
	Ping() error
	// Close closes the transport gracefully.
	Close() error
	// Terminate drops the transport without a closing handshake. Used when
	// evicting peers that stopped answering pings.
	Terminate() error
}

// Connection is the per-user state tracked by the registry: the socket it
// exclusively owns and the heartbeat liveness flag.
type Connection struct {
	UserID string
	sock   Socket
	alive  bool
}

// registry maps userId to its single live Connection. All access goes
// through the mutex; handlers run on independent goroutines.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

// insert adds a Connection for its userId, replacing any prior entry. The
// superseded Connection, if any, is returned to the caller; the registry
// itself never touches the old socket.
func (r *registry) insert(conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	return prev
}

// removeIfCurrent deletes the entry for conn.UserID only if it still points
// at conn. A stale close event for a connection that was already replaced by
// a newer one must not evict the replacement.
func (r *registry) removeIfCurrent(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[conn.UserID] != conn {
		return false
	}
	delete(r.conns, conn.UserID)
	return true
}

func (r *registry) get(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// snapshot returns the current connections. Callers iterate the copy so no
// lock is held across socket writes.
func (r *registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (r *registry) markAlive(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.alive = true
}

// beginSweep flips every live flag to false and reports, per connection,
// whether it was alive before the flip. Connections that were already false
// never answered the previous ping and are due for eviction.
func (r *registry) beginSweep() (stale, live []*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.alive {
			conn.alive = false
			live = append(live, conn)
		} else {
			stale = append(stale, conn)
		}
	}
	return stale, live
}

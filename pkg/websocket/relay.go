package websocket

import (
	"context"
	"log/slog"
	"time"
)

const defaultHeartbeat = 30 * time.Second

// PresenceStore mirrors online/offline transitions to durable storage so the
// rest of the platform can read presence without touching the relay.
type PresenceStore interface {
	SetOnline(userID string) error
	SetOffline(userID string) error
}

// OfflineNotifier receives chat payloads whose receiver was not connected.
// The relay itself never queues or retries; whatever happens to the payload
// afterwards is the notification service's business.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, receiverID string, payload []byte) error
}

// Relay tracks connected users, routes chat envelopes between them and
// evicts peers that stop answering heartbeats. Each Relay owns its own
// registry; independent instances can coexist in one process.
type Relay struct {
	reg       *registry
	logger    *slog.Logger
	heartbeat time.Duration
	store     PresenceStore
	notifier  OfflineNotifier
}

// CreateRelay builds a Relay. store and notifier may be nil, in which case
// presence mirroring and offline notification are disabled.
func CreateRelay(logger *slog.Logger, heartbeat time.Duration, store PresenceStore, notifier OfflineNotifier) *Relay {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Relay{
		reg:       newRegistry(),
		logger:    logger.With("component", "relay"),
		heartbeat: heartbeat,
		store:     store,
		notifier:  notifier,
	}
}

// Register wires a freshly accepted socket into the registry, announces the
// user online and acknowledges the registration on the new connection. A
// prior connection for the same user is superseded, not closed.
func (r *Relay) Register(userID string, sock Socket) *Connection {
	conn := &Connection{UserID: userID, sock: sock, alive: true}
	if prev := r.reg.insert(conn); prev != nil {
		r.logger.Info("superseding existing connection", "userID", userID)
	}

	r.broadcastStatus(userID, true)
	r.mirrorPresence(userID, true)

	if err := sock.WriteJSON(connectedEnvelope(userID)); err != nil {
		r.logger.Error("failed to send connected ack", "userID", userID, "error", err)
	}
	return conn
}

// Disconnect removes conn from the registry and announces the user offline.
// It is safe to call more than once and after the entry was replaced by a
// newer connection; only the call that actually removes the entry
// broadcasts.
func (r *Relay) Disconnect(conn *Connection) {
	if !r.reg.removeIfCurrent(conn) {
		return
	}
	r.broadcastStatus(conn.UserID, false)
	r.mirrorPresence(conn.UserID, false)
}

// PongReceived records a heartbeat acknowledgment for conn.
func (r *Relay) PongReceived(conn *Connection) {
	r.reg.markAlive(conn)
}

// HandleEnvelope dispatches one inbound frame from conn. Malformed and
// unrecognized envelopes are logged and dropped; the connection stays open.
func (r *Relay) HandleEnvelope(conn *Connection, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		r.logger.Warn("dropping inbound envelope", "userID", conn.UserID, "error", err)
		return
	}

	switch env.Type {
	case EventNewMessage:
		r.routeMessage(conn, env)
	case EventMessagesRead:
		r.forwardReadReceipt(conn, env)
	case EventPing:
		if err := conn.sock.WriteJSON(pongEnvelope()); err != nil {
			r.logger.Warn("failed to answer ping", "userID", conn.UserID, "error", err)
		}
	}
}

// routeMessage delivers a chat payload to its receiver if connected and
// acknowledges the sender either way. Delivery is at-most-once: no queue, no
// retry, no error back to the sender.
func (r *Relay) routeMessage(sender *Connection, env *Envelope) {
	receiver, ok := r.reg.get(env.ReceiverID)
	if ok {
		if err := receiver.sock.WriteJSON(newMessageEnvelope(env.Message)); err != nil {
			r.logger.Warn("failed to deliver message", "receiverID", env.ReceiverID, "error", err)
		}
	} else {
		r.logger.Info("receiver offline", "receiverID", env.ReceiverID, "senderID", sender.UserID)
		r.notifyOffline(env.ReceiverID, env.Message)
	}

	if current, still := r.reg.get(sender.UserID); still && current == sender {
		if err := sender.sock.WriteJSON(messageSentEnvelope(env.Message)); err != nil {
			r.logger.Warn("failed to acknowledge send", "senderID", sender.UserID, "error", err)
		}
	}
}

// forwardReadReceipt tells the contact that reader has read their messages.
// An offline contact is a silent drop.
func (r *Relay) forwardReadReceipt(reader *Connection, env *Envelope) {
	contact, ok := r.reg.get(env.ContactID)
	if !ok {
		return
	}
	if err := contact.sock.WriteJSON(messagesReadEnvelope(reader.UserID)); err != nil {
		r.logger.Warn("failed to forward read receipt", "contactID", env.ContactID, "error", err)
	}
}

// broadcastStatus fans a presence change out to every connection except the
// subject's own. Best effort: a failed send is logged and the peer simply
// misses the update.
func (r *Relay) broadcastStatus(userID string, online bool) {
	env := userStatusEnvelope(userID, online)
	for _, conn := range r.reg.snapshot() {
		if conn.UserID == userID {
			continue
		}
		if err := conn.sock.WriteJSON(env); err != nil {
			r.logger.Warn("failed to broadcast presence", "to", conn.UserID, "about", userID, "error", err)
		}
	}
}

// IsOnline reports whether userID currently has a registered connection.
func (r *Relay) IsOnline(userID string) bool {
	_, ok := r.reg.get(userID)
	return ok
}

// OnlineUsers returns the ids of all currently connected users.
func (r *Relay) OnlineUsers() []string {
	conns := r.reg.snapshot()
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.UserID)
	}
	return ids
}

// Run drives the heartbeat sweep until ctx is cancelled. It must run in its
// own goroutine; cancelling ctx stops the ticker so the process can exit
// cleanly.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts connections that never acknowledged the previous tick's ping
// and pings the rest. A peer therefore gets one full heartbeat period of
// grace before eviction, bounding dead-entry lifetime to roughly two
// periods.
func (r *Relay) sweep() {
	stale, live := r.reg.beginSweep()

	for _, conn := range stale {
		if err := conn.sock.Terminate(); err != nil {
			r.logger.Warn("failed to terminate stale connection", "userID", conn.UserID, "error", err)
		}
		if r.reg.removeIfCurrent(conn) {
			r.logger.Info("evicted unresponsive connection", "userID", conn.UserID)
			r.broadcastStatus(conn.UserID, false)
			r.mirrorPresence(conn.UserID, false)
		}
	}

	for _, conn := range live {
		if err := conn.sock.Ping(); err != nil {
			r.logger.Warn("failed to ping connection", "userID", conn.UserID, "error", err)
		}
	}
}

func (r *Relay) mirrorPresence(userID string, online bool) {
	if r.store == nil {
		return
	}
	go func() {
		var err error
		if online {
			err = r.store.SetOnline(userID)
		} else {
			err = r.store.SetOffline(userID)
		}
		if err != nil {
			r.logger.Error("failed to mirror presence to store", "userID", userID, "online", online, "error", err)
		}
	}()
}

func (r *Relay) notifyOffline(receiverID string, payload []byte) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		if err := r.notifier.NotifyOffline(ctx, receiverID, payload); err != nil {
			r.logger.Error("failed to notify offline receiver", "receiverID", receiverID, "error", err)
		}
	}()
}

package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu         sync.Mutex
	sent       []*Envelope
	pings      int
	terminated bool
	writeErr   error
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.sent = append(s.sent, v.(*Envelope))
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func (s *fakeSocket) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	return nil
}

func (s *fakeSocket) envelopes() []*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) envelopesOfType(t EventType) []*Envelope {
	var out []*Envelope
	for _, env := range s.envelopes() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) wasTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

type fakePresenceStore struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (f *fakePresenceStore) SetOnline(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, userID)
	return nil
}

func (f *fakePresenceStore) SetOffline(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, userID)
	return nil
}

func (f *fakePresenceStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.online), len(f.offline)
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

func (f *fakeNotifier) NotifyOffline(_ context.Context, receiverID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloads == nil {
		f.payloads = make(map[string][]byte)
	}
	f.payloads[receiverID] = payload
	return nil
}

func (f *fakeNotifier) payloadFor(receiverID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[receiverID]
	return p, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay() *Relay {
	return CreateRelay(discardLogger(), time.Hour, nil, nil)
}

func TestRegisterSendsConnectedAck(t *testing.T) {
	relay := newTestRelay()
	sock := &fakeSocket{}

	relay.Register("u1", sock)

	envs := sock.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, EventConnected, envs[0].Type)
	assert.Equal(t, "u1", envs[0].UserID)
	assert.JSONEq(t, `"Connected to WebSocket server"`, string(envs[0].Message))
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	relay := newTestRelay()
	first := &fakeSocket{}
	second := &fakeSocket{}

	relay.Register("u1", first)
	relay.Register("u1", second)

	require.Equal(t, []string{"u1"}, relay.OnlineUsers())

	// traffic for u1 lands on the new socket only
	sender := &fakeSocket{}
	senderConn := relay.Register("u2", sender)
	relay.HandleEnvelope(senderConn, []byte(`{"type":"NEW_MESSAGE","message":{"receiverId":"u1","content":"hi"}}`))

	assert.Empty(t, first.envelopesOfType(EventNewMessage))
	require.Len(t, second.envelopesOfType(EventNewMessage), 1)
}

func TestPresenceBroadcastExcludesSelf(t *testing.T) {
	relay := newTestRelay()
	existing := &fakeSocket{}
	relay.Register("u2", existing)

	joining := &fakeSocket{}
	relay.Register("u1", joining)

	statuses := existing.envelopesOfType(EventUserStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "u1", statuses[0].UserID)
	require.NotNil(t, statuses[0].IsOnline)
	assert.True(t, *statuses[0].IsOnline)

	// the joining user never hears about itself
	assert.Empty(t, joining.envelopesOfType(EventUserStatus))
}

func TestDisconnectBroadcastsOfflineOnce(t *testing.T) {
	relay := newTestRelay()
	observer := &fakeSocket{}
	relay.Register("u2", observer)

	sock := &fakeSocket{}
	conn := relay.Register("u1", sock)

	relay.Disconnect(conn)
	relay.Disconnect(conn)

	assert.False(t, relay.IsOnline("u1"))

	var offline []*Envelope
	for _, env := range observer.envelopesOfType(EventUserStatus) {
		if env.UserID == "u1" && env.IsOnline != nil && !*env.IsOnline {
			offline = append(offline, env)
		}
	}
	assert.Len(t, offline, 1)
}

func TestDisconnectOfSupersededConnectionIsIgnored(t *testing.T) {
	relay := newTestRelay()
	observer := &fakeSocket{}
	relay.Register("u2", observer)

	old := relay.Register("u1", &fakeSocket{})
	relay.Register("u1", &fakeSocket{})

	before := len(observer.envelopesOfType(EventUserStatus))
	relay.Disconnect(old)

	assert.True(t, relay.IsOnline("u1"))
	assert.Len(t, observer.envelopesOfType(EventUserStatus), before)
}

func TestRouteMessageDeliversAndAcknowledges(t *testing.T) {
	relay := newTestRelay()
	receiver := &fakeSocket{}
	relay.Register("u1", receiver)
	sender := &fakeSocket{}
	senderConn := relay.Register("u2", sender)

	relay.HandleEnvelope(senderConn, []byte(`{"type":"NEW_MESSAGE","message":{"receiverId":"u1","content":"hi"}}`))

	delivered := receiver.envelopesOfType(EventNewMessage)
	require.Len(t, delivered, 1)
	assert.JSONEq(t, `{"receiverId":"u1","content":"hi"}`, string(delivered[0].Message))

	acks := sender.envelopesOfType(EventMessageSent)
	require.Len(t, acks, 1)
	assert.JSONEq(t, `{"receiverId":"u1","content":"hi"}`, string(acks[0].Message))
}

func TestRouteMessageReceiverOfflineIsSilentDrop(t *testing.T) {
	notifier := &fakeNotifier{}
	relay := CreateRelay(discardLogger(), time.Hour, nil, notifier)
	sender := &fakeSocket{}
	senderConn := relay.Register("u2", sender)

	relay.HandleEnvelope(senderConn, []byte(`{"type":"NEW_MESSAGE","message":{"receiverId":"u3","content":"hi"}}`))

	// sender still gets the unconditional acknowledgement and nothing else
	require.Len(t, sender.envelopesOfType(EventMessageSent), 1)
	assert.Empty(t, sender.envelopesOfType(EventNewMessage))

	require.Eventually(t, func() bool {
		_, ok := notifier.payloadFor("u3")
		return ok
	}, time.Second, 10*time.Millisecond)
	payload, _ := notifier.payloadFor("u3")
	assert.JSONEq(t, `{"receiverId":"u3","content":"hi"}`, string(payload))
}

func TestReadReceiptForwarding(t *testing.T) {
	relay := newTestRelay()
	contact := &fakeSocket{}
	relay.Register("u1", contact)
	reader := &fakeSocket{}
	readerConn := relay.Register("u2", reader)

	relay.HandleEnvelope(readerConn, []byte(`{"type":"MESSAGES_READ","contactId":"u1"}`))

	receipts := contact.envelopesOfType(EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, "u2", receipts[0].UserID)
}

func TestReadReceiptForOfflineContactIsDropped(t *testing.T) {
	relay := newTestRelay()
	reader := &fakeSocket{}
	readerConn := relay.Register("u2", reader)

	relay.HandleEnvelope(readerConn, []byte(`{"type":"MESSAGES_READ","contactId":"u9"}`))

	// no error envelope of any kind comes back
	assert.Len(t, reader.envelopes(), 1) // the CONNECTED ack only
}

func TestPingAnswersWithPong(t *testing.T) {
	relay := newTestRelay()
	sock := &fakeSocket{}
	conn := relay.Register("u1", sock)
	before := relay.OnlineUsers()

	relay.HandleEnvelope(conn, []byte(`{"type":"PING"}`))

	pongs := sock.envelopesOfType(EventPong)
	require.Len(t, pongs, 1)
	assert.Equal(t, before, relay.OnlineUsers())
}

func TestMalformedAndUnknownEnvelopesAreDropped(t *testing.T) {
	relay := newTestRelay()
	sock := &fakeSocket{}
	conn := relay.Register("u1", sock)

	relay.HandleEnvelope(conn, []byte(`{not json`))
	relay.HandleEnvelope(conn, []byte(`{"type":"SELF_DESTRUCT"}`))
	relay.HandleEnvelope(conn, []byte(`{"type":"NEW_MESSAGE","message":{"content":"no receiver"}}`))
	relay.HandleEnvelope(conn, []byte(`{"type":"MESSAGES_READ"}`))

	assert.True(t, relay.IsOnline("u1"))
	assert.Len(t, sock.envelopes(), 1) // the CONNECTED ack only
}

func TestHeartbeatEvictsUnresponsivePeer(t *testing.T) {
	relay := newTestRelay()
	quiet := &fakeSocket{}
	relay.Register("u1", quiet)
	responsive := &fakeSocket{}
	responsiveConn := relay.Register("u2", responsive)

	// first sweep pings everyone and clears the live flags
	relay.sweep()
	assert.Equal(t, 1, quiet.pingCount())
	assert.Equal(t, 1, responsive.pingCount())
	assert.True(t, relay.IsOnline("u1"))

	// only u2 answers
	relay.PongReceived(responsiveConn)

	relay.sweep()

	assert.False(t, relay.IsOnline("u1"))
	assert.True(t, quiet.wasTerminated())
	assert.True(t, relay.IsOnline("u2"))
	assert.Equal(t, 2, responsive.pingCount())

	offlineFor := func() int {
		n := 0
		for _, env := range responsive.envelopesOfType(EventUserStatus) {
			if env.UserID == "u1" && env.IsOnline != nil && !*env.IsOnline {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, offlineFor())

	// later sweeps must not re-broadcast the eviction
	relay.PongReceived(responsiveConn)
	relay.sweep()
	assert.Equal(t, 1, offlineFor())
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	relay := CreateRelay(discardLogger(), time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after context cancellation")
	}
}

func TestPresenceMirroredToStore(t *testing.T) {
	store := &fakePresenceStore{}
	relay := CreateRelay(discardLogger(), time.Hour, store, nil)

	conn := relay.Register("u1", &fakeSocket{})
	require.Eventually(t, func() bool {
		online, _ := store.counts()
		return online == 1
	}, time.Second, 10*time.Millisecond)

	relay.Disconnect(conn)
	require.Eventually(t, func() bool {
		_, offline := store.counts()
		return offline == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastSurvivesFailingPeer(t *testing.T) {
	relay := newTestRelay()
	broken := &fakeSocket{writeErr: errors.New("write on closed connection")}
	relay.Register("u2", broken)
	healthy := &fakeSocket{}
	relay.Register("u3", healthy)

	relay.Register("u1", &fakeSocket{})

	statuses := healthy.envelopesOfType(EventUserStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "u1", statuses[0].UserID)
}

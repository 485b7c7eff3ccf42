package hub

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/civic-chat/internal/config"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("CET", 3600))

// fakeConn records close frames; reads and data writes fail as if the peer
// had gone away.
type fakeConn struct {
	mu     sync.Mutex
	closes [][]byte
	closed bool
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, net.ErrClosed }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) WriteMessage(int, []byte) error    { return net.ErrClosed }

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage {
		f.closes = append(f.closes, data)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// closeFrames returns the code and reason of every close frame written.
func (f *fakeConn) closeFrames() []websocket.CloseError {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]websocket.CloseError, 0, len(f.closes))
	for _, data := range f.closes {
		out = append(out, websocket.CloseError{Code: int(binary.BigEndian.Uint16(data[:2])), Text: string(data[2:])})
	}
	return out
}

func withServe(serve func(*Client)) Option {
	return func(h *Hub) { h.serve = serve }
}

// newTestHub builds a hub whose connections are never served: frames queued
// for them stay in c.send.
func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()

	cfg := config.Default()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(zerolog.Nop()),
		withServe(func(*Client) {}),
	}, opts...)
	return New(nil, cfg.WebSocket, cfg.RateLimit, opts...)
}

func join(t *testing.T, h *Hub, id int64, name string) *Client {
	t.Helper()

	c := newClient(h, &fakeConn{}, "127.0.0.1")
	require.True(t, h.activate(c, Participant{UserID: id, DisplayName: name}))
	return c
}

func drain(c *Client) []map[string]any {
	var out []map[string]any
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var env map[string]any
			if err := json.Unmarshal(raw, &env); err != nil {
				panic(err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	r := NewRegistry()
	c := newClient(h, &fakeConn{}, "")
	p := Participant{UserID: 1, DisplayName: "Ada"}

	req.True(r.Register(c, p))
	req.False(r.Register(c, Participant{UserID: 2, DisplayName: "Other"}))
	req.Equal(1, r.Len())

	got, ok := r.Lookup(c)
	req.True(ok)
	req.Equal(p, got)

	got, ok = r.Unregister(c)
	req.True(ok)
	req.Equal(p, got)

	_, ok = r.Unregister(c)
	req.False(ok)
	req.Zero(r.Len())
}

func TestRegistry_ConcurrentMembershipMatchesOperations(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	r := NewRegistry()

	const n = 200
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newClient(h, &fakeConn{}, "")
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(c, Participant{UserID: int64(i)})
		}()
		go func() {
			defer wg.Done()
			r.ForEach(func(*Client, Participant) {})
		}()
	}
	wg.Wait()
	req.Equal(n, r.Len())

	for i, c := range clients {
		if i%2 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Unregister(c)
			}()
		}
	}
	wg.Wait()

	seen := map[*Client]bool{}
	r.ForEach(func(c *Client, p Participant) {
		req.False(seen[c], "handle visited twice")
		seen[c] = true
		req.Equal(int64(1), p.UserID%2)
	})
	req.Len(seen, n/2)
}

func TestRegistry_ForEachAllowsReentrantCalls(t *testing.T) {
	h := newTestHub(t)
	r := NewRegistry()
	a, b := newClient(h, &fakeConn{}, ""), newClient(h, &fakeConn{}, "")
	r.Register(a, Participant{UserID: 1})
	r.Register(b, Participant{UserID: 2})

	var visited int
	r.ForEach(func(c *Client, _ Participant) {
		visited++
		r.Unregister(c)
	})

	require.Equal(t, 2, visited)
	require.Zero(t, r.Len())
}

func TestEnvelopes_HaveExactFieldSets(t *testing.T) {
	req := require.New(t)

	raw, err := encode(NewSystemEnvelope("Welcome Ada!", fixedNow))
	req.NoError(err)
	req.JSONEq(`{"type":"system","content":"Welcome Ada!","timestamp":"2024-03-01T11:30:45.123Z"}`, string(raw))

	raw, err = encode(NewMessageEnvelope("Ada", "hi", fixedNow))
	req.NoError(err)
	req.JSONEq(`{"type":"message","sender":"Ada","content":"hi","timestamp":"2024-03-01T11:30:45.123Z"}`, string(raw))
}

func TestActivate_WelcomesThenAnnounces(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := join(t, h, 1, "Ada")
	req.Equal(StateActive, a.State())
	frames := drain(a)
	req.Len(frames, 1)
	req.Equal("Welcome Ada!", frames[0]["content"])

	b := join(t, h, 2, "Bob")
	req.Equal([]map[string]any{{"type": "system", "content": "Welcome Bob!", "timestamp": "2024-03-01T11:30:45.123Z"}}, drain(b))
	req.Equal([]map[string]any{{"type": "system", "content": "Bob joined the chat", "timestamp": "2024-03-01T11:30:45.123Z"}}, drain(a))
	req.Equal(2, h.ActiveCount())
}

func TestActivate_ServesOnlyAfterJoinNotice(t *testing.T) {
	req := require.New(t)

	var a *Client
	served := make(chan []map[string]any, 1)
	h := newTestHub(t, withServe(func(c *Client) {
		if p, _ := c.hub.registry.Lookup(c); p.DisplayName != "Bob" {
			return
		}
		// Bob's transport fails the moment it is served.
		seen := drain(a)
		c.hub.deactivate(c)
		served <- seen
	}))

	a = join(t, h, 1, "Ada")
	drain(a)
	join(t, h, 2, "Bob")

	var before []map[string]any
	select {
	case before = <-served:
	case <-time.After(time.Second):
		t.Fatal("connection was never served")
	}

	req.Len(before, 1)
	req.Equal("Bob joined the chat", before[0]["content"])
	frames := drain(a)
	req.Len(frames, 1)
	req.Equal("Bob left the chat", frames[0]["content"])
	req.Equal(1, h.ActiveCount())
}

func TestBroadcast_ExcludesOnlyTheGivenHandle(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b, c := join(t, h, 1, "Ada"), join(t, h, 2, "Bob"), join(t, h, 3, "Cy")
	drain(a)
	drain(b)
	drain(c)

	req.Equal(2, h.Broadcast(NewSystemEnvelope("notice", fixedNow), b))
	req.Len(drain(a), 1)
	req.Empty(drain(b))
	req.Len(drain(c), 1)

	req.Equal(3, h.Broadcast(NewSystemEnvelope("everyone", fixedNow), nil))
	for _, cl := range []*Client{a, b, c} {
		frames := drain(cl)
		req.Len(frames, 1)
		req.Equal("everyone", frames[0]["content"])
	}
}

func TestBroadcast_EvictsOnlyTheFullRecipient(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	h := newTestHub(t, WithMetrics(NewMetrics(reg)))
	h.ws.SendBuffer = 2

	slow := join(t, h, 1, "Slow")
	fast := join(t, h, 2, "Fast")
	drain(fast)

	// slow holds its welcome plus Fast's join; the next envelope overflows it.
	delivered := h.Broadcast(NewSystemEnvelope("overflow", fixedNow), nil)

	req.Equal(1, delivered)
	req.Equal(StateClosed, slow.State())
	_, registered := h.registry.Lookup(slow)
	req.False(registered)
	req.Equal(1, h.ActiveCount())

	frames := drain(fast)
	req.Len(frames, 2)
	req.Equal("overflow", frames[0]["content"])
	req.Equal("Slow left the chat", frames[1]["content"])

	req.Equal(float64(1), testutil.ToFloat64(h.metrics.dropped.WithLabelValues("buffer_full")))
	req.Equal(float64(1), testutil.ToFloat64(h.metrics.active))
}

func TestBroadcast_SkipsClosedRecipients(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := join(t, h, 1, "Ada"), join(t, h, 2, "Bob")
	drain(a)
	drain(b)

	// Closed but still registered: the window between transport failure and
	// unregistration.
	b.closeSend()

	req.Equal(1, h.Broadcast(NewSystemEnvelope("still here", fixedNow), nil))
	req.Len(drain(a), 1)
}

func TestHandleInbound_RelaysWithEcho(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := join(t, h, 1, "Ada"), join(t, h, 2, "Bob")
	drain(a)
	drain(b)

	h.HandleInbound(a, []byte(`{"content":"hi","sender":"Mallory","extra":1}`))

	want := map[string]any{"type": "message", "sender": "Ada", "content": "hi", "timestamp": "2024-03-01T11:30:45.123Z"}
	req.Equal([]map[string]any{want}, drain(a))
	req.Equal([]map[string]any{want}, drain(b))
}

func TestHandleInbound_DropsInvalidPayloads(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newTestHub(t, WithMetrics(NewMetrics(reg)))
	a, b := join(t, h, 1, "Ada"), join(t, h, 2, "Bob")
	drain(a)
	drain(b)

	for _, raw := range []string{
		`not json`,
		`"just a string"`,
		`{"content":42}`,
		`{"message":"hi"}`,
		`{"content":null}`,
		`{}`,
	} {
		t.Run(raw, func(t *testing.T) {
			req := require.New(t)
			h.HandleInbound(a, []byte(raw))
			req.Empty(drain(a))
			req.Empty(drain(b))
			req.Equal(StateActive, a.State())
		})
	}

	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.inboundDropped.WithLabelValues("malformed")))
	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.inboundDropped.WithLabelValues("missing_content")))
}

func TestHandleInbound_AllowsEmptyContent(t *testing.T) {
	h := newTestHub(t)
	a := join(t, h, 1, "Ada")
	drain(a)

	h.HandleInbound(a, []byte(`{"content":""}`))

	frames := drain(a)
	require.Len(t, frames, 1)
	require.Equal(t, "", frames[0]["content"])
}

func TestHandleInbound_DropsUnregisteredHandle(t *testing.T) {
	h := newTestHub(t)
	a := join(t, h, 1, "Ada")
	drain(a)
	stranger := newClient(h, &fakeConn{}, "")

	h.HandleInbound(stranger, []byte(`{"content":"hi"}`))

	require.Empty(t, drain(a))
}

func TestDeactivate_AnnouncesDepartureOnce(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := join(t, h, 1, "Ada"), join(t, h, 2, "Bob")
	drain(a)

	h.deactivate(b)
	h.deactivate(b)

	frames := drain(a)
	req.Len(frames, 1)
	req.Equal("Bob left the chat", frames[0]["content"])
	req.Equal(StateClosed, b.State())
	req.Equal(1, h.ActiveCount())
}

func TestShutdown_RefusesActivation(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a := join(t, h, 1, "Ada")
	drain(a)

	req.NoError(h.Shutdown(time.Second))

	late := newClient(h, &fakeConn{}, "")
	req.False(h.activate(late, Participant{UserID: 2, DisplayName: "Late"}))
	req.Equal(StateConnecting, late.State())
	req.Empty(drain(a))
}

func TestShutdown_SendsGoingAway(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := join(t, h, 1, "Ada"), join(t, h, 2, "Bob")

	req.NoError(h.Shutdown(time.Second))

	for _, c := range []*Client{a, b} {
		fc := c.conn.(*fakeConn)
		req.Equal([]websocket.CloseError{{Code: websocket.CloseGoingAway, Text: "Server shutting down"}}, fc.closeFrames())
		fc.mu.Lock()
		req.True(fc.closed)
		fc.mu.Unlock()
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.setActive(3)
	m.connection("accepted")
	m.broadcast(TypeSystem, 1)
	m.drop("closed")
	m.dropInbound("malformed")
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateConnecting: "connecting",
		StateActive:     "active",
		StateClosed:     "closed",
		State(9):        "unknown",
	} {
		require.Equal(t, want, s.String(), fmt.Sprint(int(s)))
	}
}

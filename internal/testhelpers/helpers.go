// Package testhelpers provides websocket and HTTP utilities shared by the
// civic-chat package tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the origin test dialers present unless told otherwise.
const DefaultOrigin = "http://localhost:8080"

// DefaultTimeout bounds every wait in these helpers.
const DefaultTimeout = 3 * time.Second

// WebSocketURL converts an httptest server URL into a ws:// URL for path.
func WebSocketURL(t *testing.T, serverURL, path string) string {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = path
	return u.String()
}

// MakeRequest executes an HTTP request with a short client timeout.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, target, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// ConnectWebSocket dials url with header. An empty Origin header defaults
// to DefaultOrigin; set header["Origin"] to nil to send none.
func ConnectWebSocket(target string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	h := http.Header{}
	for k, v := range header {
		h[k] = v
	}
	if _, ok := h["Origin"]; !ok {
		h.Set("Origin", DefaultOrigin)
	}
	if len(h["Origin"]) == 0 {
		delete(h, "Origin")
	}

	conn, resp, err := dialer.Dial(target, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Client wraps a websocket connection with a background reader so tests can
// wait for frames, or for their absence, without read deadlines poisoning
// the connection.
type Client struct {
	t      *testing.T
	Conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	err    error
}

// Dial connects a Client and closes it when the test ends.
func Dial(t *testing.T, target string, header http.Header) *Client {
	t.Helper()

	conn, _, err := ConnectWebSocket(target, header)
	require.NoError(t, err)

	c := &Client{
		t:      t,
		Conn:   conn,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go c.read()
	t.Cleanup(func() { _ = c.Conn.Close() })
	return c
}

func (c *Client) read() {
	defer close(c.done)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		c.frames <- data
	}
}

// Send writes {"content": content}.
func (c *Client) Send(content string) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.WriteJSON(map[string]string{"content": content}))
}

// SendRaw writes data as a single text frame.
func (c *Client) SendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// Next waits for the next frame and decodes it into a field map.
func (c *Client) Next() map[string]any {
	c.t.Helper()

	select {
	case data := <-c.frames:
		var env map[string]any
		require.NoError(c.t, json.Unmarshal(data, &env), string(data))
		return env
	case <-c.done:
		c.t.Fatalf("connection closed while waiting for a frame: %v", c.err)
	case <-time.After(DefaultTimeout):
		c.t.Fatal("timed out waiting for a frame")
	}
	return nil
}

// ExpectSystem waits for a system envelope with content.
func (c *Client) ExpectSystem(content string) map[string]any {
	c.t.Helper()

	env := c.Next()
	require.Equal(c.t, "system", env["type"], env)
	require.Equal(c.t, content, env["content"], env)
	return env
}

// ExpectMessage waits for a message envelope from sender with content.
func (c *Client) ExpectMessage(sender, content string) map[string]any {
	c.t.Helper()

	env := c.Next()
	require.Equal(c.t, "message", env["type"], env)
	require.Equal(c.t, sender, env["sender"], env)
	require.Equal(c.t, content, env["content"], env)
	return env
}

// ExpectNothing asserts no frame arrives within d.
func (c *Client) ExpectNothing(d time.Duration) {
	c.t.Helper()

	select {
	case data := <-c.frames:
		c.t.Fatalf("unexpected frame: %s", data)
	case <-time.After(d):
	}
}

// ExpectClose waits for the server to close the connection and returns the
// close frame it sent. Frames queued before the close are discarded.
func (c *Client) ExpectClose() *websocket.CloseError {
	c.t.Helper()

	timeout := time.After(DefaultTimeout)
	for {
		select {
		case <-c.frames:
		case <-c.done:
			var ce *websocket.CloseError
			require.True(c.t, errors.As(c.err, &ce), "expected close frame, got %v", c.err)
			return ce
		case <-timeout:
			c.t.Fatal("timed out waiting for close")
			return nil
		}
	}
}

// Close sends a normal close frame and closes the transport.
func (c *Client) Close() {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Conn.Close()
}

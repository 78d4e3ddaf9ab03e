package sdk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eiobot/internal/conn"
	"eiobot/internal/dispatcher"
	"eiobot/internal/metrics"
	"eiobot/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gameServer 模拟服务端：长轮询握手后升级到 websocket
type gameServer struct {
	upgrader   websocket.Upgrader
	rejectAuth bool

	mu       sync.Mutex
	received []string
	conns    []*websocket.Conn
}

func (g *gameServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("transport") == "websocket" {
		g.serveWebsocket(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && q.Get("sid") == "":
		io.WriteString(w, `0{"sid":"s1","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":20000}`)
	case r.Method == http.MethodPost:
		if g.rejectAuth {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, "ok")
	default:
		io.WriteString(w, `40{"sid":"ns"}`)
	}
}

func (g *gameServer) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, c)
	g.mu.Unlock()
	defer c.Close()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		msg := string(data)
		g.mu.Lock()
		g.received = append(g.received, msg)
		g.mu.Unlock()

		switch {
		case msg == "2probe":
			_ = c.WriteMessage(websocket.TextMessage, []byte("3probe"))
		case msg == "5":
			_ = c.WriteMessage(websocket.TextMessage, []byte("2"))
			_ = c.WriteMessage(websocket.TextMessage, []byte(`42["welcome",{"name":"bob"}]`))
		case len(msg) > 10 && msg[:10] == `42["echo",`:
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	}
}

func (g *gameServer) messages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.received...)
}

// dropAll 服务端断开所有连接
func (g *gameServer) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.Close()
	}
	g.conns = nil
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := Config{
		Session:    session.DefaultConfig(),
		Connection: conn.DefaultConfig(),
		Identity:   "7",
		Credential: "tok",
	}
	cfg.Session.BaseURL = srv.URL
	cfg.Session.MaxAttempts = 2
	cfg.Session.RetryBackoff = 0
	cfg.Connection.InitEvents = []conn.InitEvent{{Event: "u:ammo:s", Args: []any{2}}}

	c, err := New(cfg, WithMetrics(metrics.NewMetrics("test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	game := &gameServer{}
	srv := httptest.NewServer(game)
	defer srv.Close()

	c := newTestClient(t, srv)
	assert.NotEmpty(t, c.ID())
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send("echo", "early"), conn.ErrNotConnected)

	welcome := make(chan string, 1)
	c.On("welcome", func(ctx context.Context, args dispatcher.Args) error {
		var v struct {
			Name string `json:"name"`
		}
		if err := args.Decode(0, &v); err != nil {
			return err
		}
		welcome <- v.Name
		return nil
	})
	echo := make(chan string, 1)
	c.On("echo", func(ctx context.Context, args dispatcher.Args) error {
		var s string
		if err := args.Decode(0, &s); err != nil {
			return err
		}
		echo <- s
		return nil
	})

	events := make(chan Event, 4)
	record := func(ctx context.Context, e Event) error {
		events <- e
		return nil
	}
	c.OnLifecycle(EventConnected, record)
	c.OnLifecycle(EventDisconnected, record)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsOpen())

	e := <-events
	assert.Equal(t, EventConnected, e.Type)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, c.ID(), e.ClientID)

	select {
	case name := <-welcome:
		assert.Equal(t, "bob", name)
	case <-time.After(2 * time.Second):
		t.Fatal("welcome event not dispatched")
	}

	require.NoError(t, c.Send("echo", "hi"))
	select {
	case s := <-echo:
		assert.Equal(t, "hi", s)
	case <-time.After(2 * time.Second):
		t.Fatal("echo event not dispatched")
	}

	assert.Eventually(t, func() bool {
		msgs := game.messages()
		return len(msgs) >= 4
	}, 2*time.Second, 10*time.Millisecond)
	msgs := game.messages()
	assert.Equal(t, []string{"2probe", "5", `42["u:ammo:s",2]`}, msgs[:3])
	assert.Contains(t, msgs, "3")

	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	select {
	case e := <-events:
		assert.Equal(t, EventDisconnected, e.Type)
		assert.ErrorIs(t, e.Err, conn.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected event not fired")
	}
}

func TestClient_AuthFailure(t *testing.T) {
	game := &gameServer{rejectAuth: true}
	srv := httptest.NewServer(game)
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.False(t, c.IsOpen())
	assert.Nil(t, c.Err())
}

func TestClient_ServerDropAndReconnect(t *testing.T) {
	game := &gameServer{}
	srv := httptest.NewServer(game)
	defer srv.Close()

	c := newTestClient(t, srv)
	disconnected := make(chan error, 1)
	c.OnLifecycle(EventDisconnected, func(ctx context.Context, e Event) error {
		disconnected <- e.Err
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), conn.ErrAlreadyStarted)

	game.dropAll()
	select {
	case err := <-disconnected:
		var lost *conn.ConnectionLostError
		assert.True(t, errors.As(err, &lost), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
	<-c.Done()
	assert.False(t, c.IsOpen())

	// 断线后可以重新协商
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsOpen())
}

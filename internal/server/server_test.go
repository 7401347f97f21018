package server_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailWahib/flintkv/internal/coordinator"
	"github.com/MikhailWahib/flintkv/internal/engine"
	"github.com/MikhailWahib/flintkv/internal/server"
)

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) line() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	s, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(s, "\n")
}

func (c *client) do(line string) string {
	c.t.Helper()
	c.send(line)
	return c.line()
}

// startServer serves a fresh store on a loopback port and returns a connected client.
func startServer(t *testing.T, opts server.Options) *client {
	t.Helper()

	e, err := engine.Open(engine.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	coord := coordinator.Start(e, coordinator.Options{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New(coord.Handle(), opts)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-served)
		assert.NoError(t, coord.Close())
	})
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func TestServer_Commands(t *testing.T) {
	c := startServer(t, server.Options{})

	assert.Equal(t, "OK", c.do("SET greeting hello  big   world"))
	assert.Equal(t, "hello big world", c.do("GET greeting"))
	assert.Equal(t, "(nil)", c.do("GET missing"))

	assert.Equal(t, "OK", c.do("SET apricot 1"))
	assert.Equal(t, "OK", c.do("set app 2"))
	assert.Equal(t, "OK", c.do("SET apple 3"))

	c.send("SCAN ap")
	assert.Equal(t, []string{"app", "apple", "apricot", "OK"}, []string{c.line(), c.line(), c.line(), c.line()})

	assert.Equal(t, "1", c.do("DEL apple"))
	assert.Equal(t, "0", c.do("DEL apple"))

	assert.Equal(t, "OK snapshot-0001", c.do("SNAPSHOT"))
	assert.Equal(t, "keys=3 log_bytes=0 snapshot=1", c.do("STATS"))

	c.send("SCAN")
	assert.Equal(t, "app", c.line())
	assert.Equal(t, "apricot", c.line())
	assert.Equal(t, "greeting", c.line())
	assert.Equal(t, "OK", c.line())
}

func TestServer_Errors(t *testing.T) {
	c := startServer(t, server.Options{})

	for _, line := range []string{"SET onlykey", "GET", "DEL", "SNAPSHOT now", "FLY away", "SCAN a b"} {
		assert.Equal(t, "ERROR: invalid command", c.do(line), line)
	}

	reply := c.do("SET " + strings.Repeat("k", 2000) + " v")
	assert.True(t, strings.HasPrefix(reply, "ERROR: invalid input"), reply)

	// Blank lines are ignored and the connection keeps working.
	c.send("")
	assert.Equal(t, "OK", c.do("SET k v"))
}

func TestServer_RateLimit(t *testing.T) {
	c := startServer(t, server.Options{RateLimit: 10})

	start := time.Now()
	for range 4 {
		assert.Equal(t, "OK", c.do("SET k v"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	e, err := engine.Open(engine.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	coord := coordinator.Start(e, coordinator.Options{})
	defer coord.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.New(coord.Handle(), server.Options{}).Serve(ctx, l) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	_, err = conn.Write([]byte("SET k v\n"))
	require.NoError(t, err)
	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK\n", reply)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

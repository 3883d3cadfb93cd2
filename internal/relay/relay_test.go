package relay

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"

	"github.com/1ureka/gpclient/internal/protocol"
)

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func startTCPEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func startUDPEcho(t *testing.T) netip.AddrPort {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := c.ReadFromUDP(buf)
			if err != nil {
				return
			}
			c.WriteToUDP(buf[:n], from)
		}
	}()
	return c.LocalAddr().(*net.UDPAddr).AddrPort()
}

func TestServeTCPMode(t *testing.T) {
	relayAddr := startServer(t, &Server{})
	echo := startTCPEcho(t)

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteMode(conn, protocol.ModeTCP))

	session, err := smux.Client(conn, protocol.SmuxConfig(0))
	require.NoError(t, err)
	defer session.Close()

	for i := 0; i < 3; i++ {
		stream, err := session.OpenStream()
		require.NoError(t, err)
		require.NoError(t, protocol.WriteTarget(stream, echo))
		sc := protocol.NewStreamConn(stream)

		msg := []byte("hello through stream")
		_, err = sc.Write(msg)
		require.NoError(t, err)

		got := make([]byte, len(msg))
		stream.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = io.ReadFull(sc, got)
		require.NoError(t, err)
		require.Equal(t, msg, got)

		// Ending our side lets the echo target finish and end its side too.
		require.NoError(t, sc.CloseWrite())
		rest, err := io.ReadAll(sc)
		require.NoError(t, err)
		require.Empty(t, rest)
		stream.Close()
	}
}

func TestServeTCPModeUnreachableTarget(t *testing.T) {
	relayAddr := startServer(t, &Server{})

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	dead.Close()

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteMode(conn, protocol.ModeTCP))

	session, err := smux.Client(conn, protocol.SmuxConfig(0))
	require.NoError(t, err)
	defer session.Close()

	stream, err := session.OpenStream()
	require.NoError(t, err)
	require.NoError(t, protocol.WriteTarget(stream, deadAddr))

	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = stream.Read(make([]byte, 1))
	require.Error(t, err)
	require.False(t, session.IsClosed(), "one failed stream must not kill the session")
}

func TestServeUDPMode(t *testing.T) {
	relayAddr := startServer(t, &Server{})
	echo := startUDPEcho(t)

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteMode(conn, protocol.ModeUDP))

	keys := []protocol.AddrKey{
		{Src: netip.MustParseAddrPort("10.0.0.1:1000"), Dst: echo},
		{Src: netip.MustParseAddrPort("10.0.0.2:2000"), Dst: echo},
	}
	for _, k := range keys {
		require.NoError(t, protocol.WriteFrame(conn, &protocol.Frame{Key: k, Payload: []byte("ping " + k.Src.String())}))
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)
	seen := map[protocol.AddrKey]string{}
	for len(seen) < len(keys) {
		f, err := protocol.ReadFrame(r)
		require.NoError(t, err)
		seen[f.Key] = string(f.Payload)
	}
	for _, k := range keys {
		require.Equal(t, "ping "+k.Src.String(), seen[k])
	}
}

func TestServeUDPFlowIdleTimeout(t *testing.T) {
	s := &Server{UDPIdleTime: 50 * time.Millisecond}
	relayAddr := startServer(t, s)
	echo := startUDPEcho(t)

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteMode(conn, protocol.ModeUDP))

	key := protocol.AddrKey{Src: netip.MustParseAddrPort("10.0.0.1:1000"), Dst: echo}
	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// A flow that idled out is re-created transparently on the next frame.
	for i := 0; i < 2; i++ {
		require.NoError(t, protocol.WriteFrame(conn, &protocol.Frame{Key: key, Payload: []byte("x")}))
		f, err := protocol.ReadFrame(r)
		require.NoError(t, err)
		require.Equal(t, key, f.Key)
		time.Sleep(150 * time.Millisecond)
	}
}

func TestServeRejectsBadMode(t *testing.T) {
	relayAddr := startServer(t, &Server{})

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x7f})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- (&Server{}).Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWebSocketPIN(t *testing.T) {
	s := &Server{PIN: "123456"}
	srv := httptest.NewServer(s.Handler(context.Background()))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + WebSocketPath

	_, resp, err := websocket.DefaultDialer.Dial(base+"?pin=000000", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(base+"?pin=123456", nil)
	require.NoError(t, err)
	ws.Close()
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	require.Len(t, pin, 6)
	for _, c := range pin {
		require.True(t, c >= '0' && c <= '9')
	}
}

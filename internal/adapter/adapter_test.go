package adapter

import (
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerAcceptorReportsDestination(t *testing.T) {
	dst := netip.MustParseAddrPort("10.1.2.3:443")
	acc, err := ListenTCP("127.0.0.1:0", dst)
	require.NoError(t, err)
	defer acc.Close()

	go func() {
		c, err := net.Dial("tcp", acc.Addr().String())
		if err == nil {
			defer c.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	conn, got, err := acc.Accept()
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, dst, got)
}

func TestListenerAcceptorDeadline(t *testing.T) {
	acc, err := ListenTCP("127.0.0.1:0", netip.MustParseAddrPort("10.1.2.3:443"))
	require.NoError(t, err)
	defer acc.Close()

	require.NoError(t, acc.SetDeadline(time.Now()))
	_, _, err = acc.Accept()
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestUDPForwarder(t *testing.T) {
	dst := netip.MustParseAddrPort("10.1.2.3:53")
	fwd, err := ListenUDP("127.0.0.1:0", dst)
	require.NoError(t, err)
	defer fwd.Close()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	_, err = peer.WriteTo([]byte("query"), fwd.Addr())
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, fwd.SetDeadline(time.Now().Add(5*time.Second)))
	src, gotDst, n, err := fwd.RecvFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "query", string(buf[:n]))
	require.Equal(t, dst, gotDst)
	require.Equal(t, peer.LocalAddr().(*net.UDPAddr).AddrPort(), src)
	require.True(t, src.Addr().Is4())

	require.NoError(t, fwd.SendBack([]byte("answer"), src, dst))
	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err = peer.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "answer", string(buf[:n]))

	require.Error(t, fwd.SendBack([]byte("x"), src, netip.MustParseAddrPort("10.9.9.9:53")))
}

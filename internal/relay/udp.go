package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1ureka/gpclient/internal/protocol"
	"github.com/1ureka/gpclient/internal/util"
)

var errBadFrame = errors.New("relay: frame destination unusable")

// udpSession is one UDP-mode client: a shared frame writer and a socket per flow.
type udpSession struct {
	conn net.Conn
	idle time.Duration

	wmu sync.Mutex
	w   *bufio.Writer

	mu    sync.Mutex
	flows map[protocol.AddrKey]*net.UDPConn
	wg    sync.WaitGroup
}

// serveUDP reads frames until the client disconnects, sending each payload
// from the flow's own socket so replies can be matched back to the key.
func (s *Server) serveUDP(conn net.Conn) error {
	idle := s.UDPIdleTime
	if idle <= 0 {
		idle = DefaultUDPIdleTime
	}

	us := &udpSession{
		conn:  conn,
		idle:  idle,
		w:     bufio.NewWriter(conn),
		flows: make(map[protocol.AddrKey]*net.UDPConn),
	}
	defer us.close()

	r := bufio.NewReader(conn)
	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		flow, err := us.flow(f.Key)
		if err != nil {
			util.LogWarning("[udp %s -> %s] %v", f.Key.Src, f.Key.Dst, err)
			continue
		}
		if _, err := flow.Write(f.Payload); err != nil {
			util.LogDebug("[udp %s -> %s] send failed: %v", f.Key.Src, f.Key.Dst, err)
		}
	}
}

// flow returns the socket for key, dialing it on first use.
func (us *udpSession) flow(key protocol.AddrKey) (*net.UDPConn, error) {
	us.mu.Lock()
	defer us.mu.Unlock()

	if c, ok := us.flows[key]; ok {
		return c, nil
	}

	if !key.Dst.IsValid() || key.Dst.Port() == 0 {
		return nil, errBadFrame
	}
	c, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(key.Dst))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", key.Dst, err)
	}
	us.flows[key] = c

	us.wg.Add(1)
	go us.readReplies(key, c)
	return c, nil
}

// readReplies forwards datagrams from the destination back to the client
// under the flow's original key until the flow idles out.
func (us *udpSession) readReplies(key protocol.AddrKey, c *net.UDPConn) {
	defer us.wg.Done()
	defer us.drop(key, c)

	buf := make([]byte, protocol.MaxPayloadSize)
	for {
		c.SetReadDeadline(time.Now().Add(us.idle))
		n, err := c.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				util.LogDebug("[udp %s -> %s] idle, closing flow", key.Src, key.Dst)
			}
			return
		}

		us.wmu.Lock()
		err = protocol.WriteFrame(us.w, &protocol.Frame{Key: key, Payload: buf[:n]})
		if err == nil {
			err = us.w.Flush()
		}
		us.wmu.Unlock()
		if err != nil {
			us.conn.Close()
			return
		}
		util.Stats.AddDatagram()
	}
}

func (us *udpSession) drop(key protocol.AddrKey, c *net.UDPConn) {
	us.mu.Lock()
	if us.flows[key] == c {
		delete(us.flows, key)
	}
	us.mu.Unlock()
	c.Close()
}

func (us *udpSession) close() {
	us.mu.Lock()
	for _, c := range us.flows {
		c.Close()
	}
	us.mu.Unlock()
	us.wg.Wait()
}

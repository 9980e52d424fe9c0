package remote

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// sharedConn is one outbound connection shared by every Sink in the
// process targeting the same address over the same transport. The write
// path is serialized so concurrent sinks never interleave frames.
type sharedConn struct {
	key  string
	conn net.Conn
	ws   bool

	writeMu sync.Mutex

	// refs is guarded by the owning cache's mutex.
	refs int
}

// send writes one message: a WebSocket frame, or a length-prefixed frame
// on legacy connections.
func (c *sharedConn) send(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws {
		return wsutil.WriteClientMessage(c.conn, op, payload)
	}
	return writeFrame(c.conn, payload)
}

// connCache reference-counts shared connections. A connection is dialed
// lazily when the first sink for an address is created and closed when
// the last sink referencing it is closed.
type connCache struct {
	mu    sync.Mutex
	conns map[string]*sharedConn
}

var conns = &connCache{conns: make(map[string]*sharedConn)}

func (cc *connCache) acquire(ctx context.Context, addr string, wsTransport bool) (*sharedConn, error) {
	scheme := "tcp"
	if wsTransport {
		scheme = "ws"
	}
	key := scheme + "://" + addr

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.conns[key]; ok {
		c.refs++
		return c, nil
	}

	var conn net.Conn
	var err error
	if wsTransport {
		conn, _, _, err = ws.Dial(ctx, key)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("remote: dialing %s: %w", key, err)
	}

	c := &sharedConn{key: key, conn: conn, ws: wsTransport, refs: 1}
	cc.conns[key] = c
	return c, nil
}

func (cc *connCache) release(c *sharedConn) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	c.refs--
	if c.refs > 0 {
		return nil
	}
	delete(cc.conns, c.key)
	return c.conn.Close()
}

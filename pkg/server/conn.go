package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bedekelly/twistchat/pkg/protocol"
)

// flushTimeout bounds how long a closing connection may spend writing the
// lines still queued for it.
const flushTimeout = 2 * time.Second

// lineConn is the Outbound side of one TCP connection. Lines are queued and
// written by a dedicated goroutine so a slow reader never stalls the registry.
type lineConn struct {
	conn     net.Conn
	queue    chan string
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
	metrics  *Metrics
	log      *slog.Logger
}

func newLineConn(conn net.Conn, size int, metrics *Metrics) *lineConn {
	if size <= 0 {
		size = DefaultSendQueue
	}
	c := &lineConn{
		conn:     conn,
		queue:    make(chan string, size),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		metrics:  metrics,
		log:      slog.With("remote", conn.RemoteAddr().String()),
	}
	go c.writeLoop()
	return c
}

// Send queues line without blocking. When the queue is full the line is
// dropped.
func (c *lineConn) Send(line string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.queue <- line:
	default:
		c.metrics.DroppedLines.Add(1)
		c.log.Warn("send queue full, dropping line")
	}
}

// Close stops accepting lines. The writer flushes what is queued, giving up
// after flushTimeout, and then closes the socket.
func (c *lineConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
	})
}

func (c *lineConn) writeLoop() {
	defer close(c.finished)
	defer func() { _ = c.conn.Close() }()

	w := bufio.NewWriter(c.conn)
	for {
		select {
		case line := <-c.queue:
			if err := c.write(w, line); err != nil {
				c.log.Debug("write failed", "err", err)
				c.Close()
				return
			}
		case <-c.done:
			c.flush(w)
			return
		}
	}
}

func (c *lineConn) write(w *bufio.Writer, line string) error {
	if err := protocol.WriteLine(w, line); err != nil {
		return err
	}
	if len(c.queue) == 0 {
		return w.Flush()
	}
	return nil
}

func (c *lineConn) flush(w *bufio.Writer) {
	for {
		select {
		case line := <-c.queue:
			if err := protocol.WriteLine(w, line); err != nil {
				return
			}
		default:
			_ = w.Flush()
			return
		}
	}
}

// handleConn runs the read side of one connection until the peer goes away,
// the session is closed, or ctx is cancelled.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)

	lc := newLineConn(conn, s.cfg.SendQueue, s.metrics)
	session := s.registry.Connect(lc, conn.RemoteAddr())

	stop := context.AfterFunc(ctx, lc.Close)
	defer stop()

	reader := protocol.NewLineReader(conn)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, protocol.ErrInvalidEncoding) || errors.Is(err, protocol.ErrLineTooLong) {
			s.metrics.InvalidLines.Add(1)
			session.log.Debug("dropping line", "err", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				session.log.Debug("read ended", "err", err)
			}
			break
		}
		s.registry.HandleLine(session, line)
	}

	s.registry.Disconnect(session)
	lc.Close()
	<-lc.finished
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lthibault/log"

	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("write queue full")
)

// wsConn owns the writing side of one websocket. Every outbound frame goes
// through out so replies and notifications never interleave on the wire.
type wsConn struct {
	l  log.Logger
	ws *websocket.Conn
	a  *API

	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	if !a.conns.Add() {
		a.m.ApiReqCounter.WithLabelValues("ws", "503").Inc()
		writeError(w, http.StatusServiceUnavailable, rpc.NewError(rpc.CodeServerError, "shutting down"))
		return
	}
	defer a.conns.Done()

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		a.l.WithError(err).Debug("websocket upgrade failed")
		a.m.ApiReqCounter.WithLabelValues("ws", "400").Inc()
		return
	}
	ws.SetReadLimit(a.maxBody.Load())

	a.m.ApiReqCounter.WithLabelValues("ws", "101").Inc()
	a.m.Connections.Inc()
	defer a.m.Connections.Dec()

	c := &wsConn{
		l:      a.l.WithField("remote", r.RemoteAddr),
		ws:     ws,
		a:      a,
		out:    make(chan []byte, a.conf.WriteQueue),
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := pubsub.NewRegistry(a.l, a.src, c, a.pm)
	d := a.d.With(pubsub.NewSession(reg, a.h))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		select {
		case <-a.quit:
			c.close()
		case <-c.closed:
		}
	}()

	defer func() {
		reg.Close()
		c.close()
		wg.Wait()
		ws.Close()
	}()

	c.readLoop(ctx, d, reg)
}

func (c *wsConn) readLoop(ctx context.Context, d *rpc.Dispatcher, reg *pubsub.Registry) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.l.WithError(err).Debug("websocket read failed")
			}
			return
		}

		out, ok := d.Handle(ctx, msg)
		if ok {
			if c.send(out) != nil {
				return
			}
		}
		// a subscription id reaches the client before any of its events
		reg.Activate()
	}
}

// send queues a reply, waiting for room in the queue.
func (c *wsConn) send(b []byte) error {
	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return ErrConnClosed
	}
}

// Notify queues a notification without blocking the producer. A full queue
// fails the notification and ends its subscription.
func (c *wsConn) Notify(n pubsub.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		c.a.m.Dropped.Inc()
		return ErrSlowConsumer
	}
}

func (c *wsConn) writeLoop() {
	ping := time.NewTicker(c.a.conf.PingInterval)
	defer ping.Stop()

	for {
		select {
		case b := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(c.a.conf.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.l.WithError(err).Debug("websocket write failed")
				c.close()
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(c.a.conf.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}

		case <-c.closed:
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		// unblock the reader
		c.ws.SetReadDeadline(time.Now())
	})
}

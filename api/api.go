package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
	"github.com/blocknative/devnode/structs"
)

// Router paths
const (
	PathRoot   = "/"
	PathWS     = "/ws"
	PathHealth = "/health"
)

// CodeLimitExceeded is returned for an oversized payload.
const CodeLimitExceeded = -32005

const DefaultMaxBodySize = 5 << 20

type Config struct {
	MaxBodySize int64
	// WriteQueue is the number of outbound websocket messages buffered per
	// connection.
	WriteQueue   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type API struct {
	l   log.Logger
	d   *rpc.Dispatcher
	h   rpc.Handler
	src pubsub.Source
	pm  *pubsub.Metrics

	conf    Config
	maxBody *atomic.Int64

	upgrader websocket.Upgrader
	conns    *structs.TimeoutWaitGroup
	quit     chan struct{}

	m *APIMetrics
}

// NewApi serves h over HTTP and websocket. Websocket connections may also
// subscribe to events published by src.
func NewApi(l log.Logger, d *rpc.Dispatcher, h rpc.Handler, src pubsub.Source, pm *pubsub.Metrics, conf Config) *API {
	if conf.MaxBodySize <= 0 {
		conf.MaxBodySize = DefaultMaxBodySize
	}
	if conf.WriteQueue <= 0 {
		conf.WriteQueue = 256
	}
	if conf.WriteTimeout <= 0 {
		conf.WriteTimeout = 10 * time.Second
	}
	if conf.PingInterval <= 0 {
		conf.PingInterval = 30 * time.Second
	}
	if pm == nil {
		pm = pubsub.NewMetrics()
	}

	a := &API{
		l:       l.WithField("subService", "api"),
		d:       d,
		h:       h,
		src:     src,
		pm:      pm,
		conf:    conf,
		maxBody: atomic.NewInt64(conf.MaxBodySize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: structs.NewTimeoutWaitGroup(),
		quit:  make(chan struct{}),
		m:     &APIMetrics{},
	}
	a.initMetrics()
	return a
}

func (a *API) AttachToHandler(m *http.ServeMux) {
	router := mux.NewRouter()
	router.Use(withLogger(a.l))

	router.HandleFunc(PathRoot, a.serveWS).Methods(http.MethodGet).MatcherFunc(isUpgrade)
	router.HandleFunc(PathWS, a.serveWS).Methods(http.MethodGet)

	rpcRoutes := router.NewRoute().Subrouter()
	rpcRoutes.Use(withContentType("application/json"))
	rpcRoutes.HandleFunc(PathRoot, a.call).Methods(http.MethodPost)
	rpcRoutes.HandleFunc(PathRoot, status).Methods(http.MethodGet)
	rpcRoutes.HandleFunc(PathHealth, status).Methods(http.MethodGet)

	m.Handle("/", router)
}

func (a *API) OnConfigChange(c structs.OldNew) error {
	switch c.Name {
	case "MaxBodySize":
		if i, ok := c.New.(int64); ok && i > 0 {
			a.maxBody.Store(i)
		}
	}
	return nil
}

// Shutdown closes every websocket connection and waits for their handlers
// to return, or for ctx to expire.
func (a *API) Shutdown(ctx context.Context) error {
	a.conns.Close()
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}

	select {
	case <-a.conns.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func status(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func isUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}

func (a *API) call(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(a.m.ApiReqTiming.WithLabelValues("http"))
	defer timer.ObserveDuration()

	raw, err := a.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.m.ApiReqCounter.WithLabelValues("http", "413").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, rpc.NewError(CodeLimitExceeded, "request body too large"))
			return
		}

		a.l.WithError(err).Debug("failed to read request body")
		a.m.ApiReqCounter.WithLabelValues("http", "400").Inc()
		writeError(w, http.StatusBadRequest, rpc.ParseError())
		return
	}

	out, ok := a.d.Handle(r.Context(), raw)
	if !ok {
		a.m.ApiReqCounter.WithLabelValues("http", "204").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a.m.ApiReqCounter.WithLabelValues("http", "200").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := io.Reader(http.MaxBytesReader(w, r.Body, a.maxBody.Load()))

	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		// the limit applies to the inflated payload too
		body = io.LimitReader(gz, a.maxBody.Load()+1)

		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		if int64(len(raw)) > a.maxBody.Load() {
			return nil, &http.MaxBytesError{Limit: a.maxBody.Load()}
		}
		return raw, nil
	}

	return io.ReadAll(body)
}

func writeError(w http.ResponseWriter, code int, e *rpc.Error) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rpc.ErrorResponse(rpc.NullID, e))
}

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lthibault/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/blocknative/devnode/structs"
)

// Handler executes a single method. Implementations serialize access to
// whatever state they own; the dispatcher may call Execute concurrently for
// the elements of a batch.
type Handler interface {
	Execute(ctx context.Context, method string, params json.RawMessage) (any, error)
}

type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

type Config struct {
	// BatchConcurrency bounds how many calls of one batch run at once.
	// Zero or less means no bound.
	BatchConcurrency int64
}

type Dispatcher struct {
	l log.Logger
	h Handler

	batchLimit *atomic.Int64

	m *DispatcherMetrics
}

func NewDispatcher(l log.Logger, h Handler, conf Config) *Dispatcher {
	d := &Dispatcher{
		l:          l.WithField("subService", "rpc"),
		h:          h,
		batchLimit: atomic.NewInt64(conf.BatchConcurrency),
		m:          &DispatcherMetrics{},
	}
	d.initMetrics()
	return d
}

// With returns a dispatcher bound to h that shares configuration and
// metrics with d.
func (d *Dispatcher) With(h Handler) *Dispatcher {
	cp := *d
	cp.h = h
	return &cp
}

func (d *Dispatcher) OnConfigChange(c structs.OldNew) error {
	switch c.Name {
	case "BatchConcurrency":
		if i, ok := c.New.(int64); ok {
			d.batchLimit.Store(i)
		}
	}
	return nil
}

// Handle decodes raw, runs every call and returns the encoded reply. ok is
// false when nothing must be written back, which is the case for a lone
// notification and for a batch made only of notifications.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) (out []byte, ok bool) {
	req, err := DecodeRequest(raw)
	if err != nil {
		d.l.WithError(err).Debug("failed to decode request")
		d.m.DecodeErrors.Inc()
		return d.encode(Reply{Responses: []Response{ErrorResponse(NullID, InvalidRequest())}}), true
	}

	reply, ok := d.Dispatch(ctx, req)
	if !ok {
		return nil, false
	}
	return d.encode(reply), true
}

// Dispatch runs an already decoded request. Batch calls are fanned out and
// collected in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Reply, bool) {
	if !req.Batch {
		resp, ok := d.call(ctx, req.Calls[0])
		if !ok {
			return Reply{}, false
		}
		return Reply{Responses: []Response{resp}}, true
	}

	d.m.BatchSize.Observe(float64(len(req.Calls)))

	results := make([]*Response, len(req.Calls))

	var g errgroup.Group
	if limit := d.batchLimit.Load(); limit > 0 {
		g.SetLimit(int(limit))
	}
	for i, c := range req.Calls {
		i, c := i, c
		g.Go(func() error {
			if resp, ok := d.call(ctx, c); ok {
				results[i] = &resp
			}
			return nil
		})
	}
	g.Wait()

	var responses []Response
	for _, r := range results {
		if r != nil {
			responses = append(responses, *r)
		}
	}
	if len(responses) == 0 {
		return Reply{}, false
	}
	return Reply{Batch: true, Responses: responses}, true
}

func (d *Dispatcher) call(ctx context.Context, c Call) (Response, bool) {
	switch c.Kind {
	case KindInvalid:
		d.m.CallCounter.WithLabelValues("", c.Kind.String(), "invalid").Inc()
		return ErrorResponse(c.ID, InvalidRequest()), true

	case KindNotification:
		if _, err := d.execute(ctx, c); err != nil {
			d.l.With(log.F{
				"method": c.Method,
				"type":   c.Kind.String(),
			}).WithError(err).Debug("notification failed")
		}
		return Response{}, false
	}

	result, err := d.execute(ctx, c)
	if err != nil {
		d.l.With(log.F{
			"method": c.Method,
			"id":     c.ID.String(),
		}).WithError(err).Debug("call failed")
	}
	return NewResponse(c.ID, result, err), true
}

func (d *Dispatcher) execute(ctx context.Context, c Call) (result any, err error) {
	t0 := time.Now()
	defer func() {
		if v := recover(); v != nil {
			d.l.With(log.F{
				"method": c.Method,
				"trace":  string(debug.Stack()),
			}).Error("handler panic")
			result, err = nil, InternalError(fmt.Sprintf("panic: %v", v))
		}

		outcome := "ok"
		method := c.Method
		if err != nil {
			e := AsError(err)
			outcome = fmt.Sprint(e.Code)
			if e.Code == CodeMethodNotFound {
				method = "unknown"
			}
		}
		d.m.CallCounter.WithLabelValues(method, c.Kind.String(), outcome).Inc()
		d.m.Timing.WithLabelValues(method).Observe(time.Since(t0).Seconds())
	}()

	return d.h.Execute(ctx, c.Method, c.Params)
}

func (d *Dispatcher) encode(r Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		d.l.WithError(err).Error("failed to encode reply")
		b, _ = json.Marshal(ErrorResponse(NullID, InternalError("")))
	}
	return b
}

package pubsub

import (
	"context"
	"encoding/json"

	"github.com/blocknative/devnode/rpc"
)

const (
	MethodSubscribe   = "eth_subscribe"
	MethodUnsubscribe = "eth_unsubscribe"
)

// Session is the handler of a connection that can receive notifications.
// Subscription methods are served from the connection's registry; every
// other method goes to next.
type Session struct {
	reg  *Registry
	next rpc.Handler
}

func NewSession(reg *Registry, next rpc.Handler) *Session {
	return &Session{reg: reg, next: next}
}

func (s *Session) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodSubscribe:
		var (
			kind Kind
			p    Params
		)
		if err := rpc.UnmarshalParams(params, 1, &kind, &p); err != nil {
			return nil, err
		}
		return s.reg.Subscribe(kind, p)

	case MethodUnsubscribe:
		var id ID
		if err := rpc.UnmarshalParams(params, 1, &id); err != nil {
			return nil, err
		}
		return s.reg.Unsubscribe(id), nil
	}

	return s.next.Execute(ctx, method, params)
}

func (s *Session) Registry() *Registry {
	return s.reg
}

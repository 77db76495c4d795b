package quill

import (
	"context"
	"sync"
)

// Server is the top-level Quill server: a Router plus one ServerAdapter
// per profile it accepts connections on (Classic/Turbo/Hyper), grounded on
// the teacher's `Server{s *fasthttp.Server}` (server.go) generalized from
// one fixed transport to a set of pluggable adapters.
type Server struct {
	Config *ServerConfig

	mu       sync.Mutex
	adapters []ServerAdapter
	drainer  *Drainer
}

// NewServer constructs a Server. cfg.Router must be non-nil and Seal()ed
// before the first call to Serve.
func NewServer(cfg *ServerConfig) *Server {
	return &Server{
		Config:  cfg.withDefaults(),
		drainer: NewDrainer(),
	}
}

// Attach binds a transport adapter (constructed by transport/classic,
// transport/turbo, or transport/hyper against this Server's Config) to
// this Server. Must be called before Serve.
func (s *Server) Attach(a ServerAdapter) {
	s.mu.Lock()
	s.adapters = append(s.adapters, a)
	s.mu.Unlock()
}

// Serve runs every attached adapter concurrently until ctx is cancelled or
// any adapter returns a fatal error, in which case Serve cancels the
// others and returns that error.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	adapters := append([]ServerAdapter(nil), s.adapters...)
	s.mu.Unlock()

	if len(adapters) == 0 {
		return NewError(ErrorInternal, "no transport adapters attached")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(adapters))
	for _, a := range adapters {
		a := a
		go func() {
			errCh <- a.Serve(runCtx)
		}()
	}

	var first error
	for range adapters {
		if err := <-errCh; err != nil && first == nil && runCtx.Err() == nil {
			first = err
			cancel()
		}
	}
	return first
}

// Drain gracefully drains every attached adapter, waiting for in-flight
// streams to finish or ctx to expire — the transport-agnostic
// generalization of the teacher's GOAWAY-based closeRef draining.
func (s *Server) Drain(ctx context.Context) error {
	s.mu.Lock()
	adapters := append([]ServerAdapter(nil), s.adapters...)
	s.mu.Unlock()

	var firstErr error
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, a := range adapters {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Drain(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// dispatch resolves path + HTTP method to a registered Method, the shared
// first step every transport adapter calls into before constructing the
// call's Receiver/Sender pair. Centralizing it here means Router/
// ErrorKind/Problem Details behavior never drifts between adapters.
func (s *Server) dispatch(path, httpMethod string) (*Method, *Error) {
	m, err := s.Config.Router.Lookup(path)
	if err != nil {
		return nil, err
	}
	if err := CheckMethodAllowed(m, httpMethod); err != nil {
		return nil, err
	}
	return m, nil
}

// InvokeUnary runs a UNARY method's handler to completion, converting any
// returned error into its canonical form. Transport adapters use this (and
// InvokeServerStream/InvokeClientStream/InvokeBidi below) so handler
// invocation semantics — cancellation propagation, error mapping — are
// identical across Classic/Turbo/Hyper.
func (s *Server) InvokeUnary(cctx *CallCtx, m *Method, reqPayload []byte) (respPayload []byte, errOut *Error) {
	req := m.NewRequest()
	if err := unmarshalInto(req, reqPayload); err != nil {
		return nil, err
	}
	resp, err := m.Unary(cctx, req)
	if err != nil {
		return nil, AsQuillError(err)
	}
	payload, merr := marshalFrom(resp)
	if merr != nil {
		return nil, merr
	}
	return payload, nil
}

// InvokeServerStream runs a SERVER_STREAM handler, writing each response
// via sender (supplied by the transport adapter, bound to the call's
// stream and FrameWriter).
func (s *Server) InvokeServerStream(cctx *CallCtx, m *Method, reqPayload []byte, send Sender) *Error {
	req := m.NewRequest()
	if err := unmarshalInto(req, reqPayload); err != nil {
		return err
	}
	if err := m.ServerStream(cctx, req, send); err != nil {
		return AsQuillError(err)
	}
	return nil
}

// InvokeClientStream runs a CLIENT_STREAM handler against recv (fed by the
// transport adapter as DATA frames arrive), returning the single response
// payload.
func (s *Server) InvokeClientStream(cctx *CallCtx, m *Method, recv Receiver) (respPayload []byte, errOut *Error) {
	resp, err := m.ClientStream(cctx, recv)
	if err != nil {
		return nil, AsQuillError(err)
	}
	payload, merr := marshalFrom(resp)
	if merr != nil {
		return nil, merr
	}
	return payload, nil
}

// InvokeBidi runs a BIDI handler against the call's recv/send pair.
func (s *Server) InvokeBidi(cctx *CallCtx, m *Method, recv Receiver, send Sender) *Error {
	if err := m.Bidi(cctx, recv, send); err != nil {
		return AsQuillError(err)
	}
	return nil
}

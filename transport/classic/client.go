package classic

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"sync/atomic"

	"github.com/valyala/fasthttp"

	"github.com/jeffhajewski/quill"
)

// Client is the Classic ClientAdapter, built on fasthttp.HostClient
// exactly as the teacher's client.go wraps a persistent connection per
// host. Because H1 allows only one in-flight request per connection, each
// OpenStream call issues one fasthttp request/response round trip; the
// caller's Dialer/ConnPool is what provides concurrency across calls.
type Client struct {
	hc   *fasthttp.HostClient
	addr string
}

// Dial constructs a Classic ClientAdapter for addr. Matches the
// quill.DialOptions-accepting signature Dialer.RegisterTransport expects.
func Dial(ctx context.Context, addr string, opts *quill.DialOptions) (quill.ClientAdapter, error) {
	hc := &fasthttp.HostClient{
		Addr: addr,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: opts.TLSServerName,
		},
	}
	return &Client{hc: hc, addr: addr}, nil
}

func (c *Client) Profile() quill.Profile { return quill.ProfileClassic }

func (c *Client) Close() error { return nil }

// OpenStream issues one H1 request/response round trip. The request body
// is a pipe fed by the returned FrameWriter and sent with chunked
// transfer-encoding, so the client does not hold the whole request in
// memory. The response body is read in full before its frames are decoded
// and delivered on the message channel.
func (c *Client) OpenStream(ctx context.Context, cctx *quill.CallCtx) (quill.FrameWriter, <-chan []byte, <-chan struct{}, <-chan error, error) {
	pr, pw := io.Pipe()

	msgs := make(chan []byte, 16)
	done := make(chan struct{})
	errs := make(chan error, 1)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/proto")
	req.SetRequestURI("http://" + c.addr + cctx.MethodPath())
	req.SetBodyStream(pr, -1)

	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		defer close(done)
		defer close(msgs)

		if err := c.hc.Do(req, resp); err != nil {
			errs <- quill.Wrap(quill.ErrorUnavailable, "classic transport request failed", err)
			return
		}
		if resp.StatusCode() >= 300 {
			problem, perr := quill.DecodeProblem(resp.Body())
			if perr == nil {
				errs <- &quillProblemError{problem}
				return
			}
			errs <- quill.NewError(quill.ErrorInternal, "request failed with no problem body")
			return
		}

		body := resp.Body()
		parser := quill.NewParser(0)
		parser.Feed(body)
		for {
			outcome, flags, payload, err := parser.Poll()
			switch outcome {
			case quill.FrameReady:
				if flags.Has(quill.FlagData) {
					msgs <- payload
				}
				if flags.Has(quill.FlagEndStream) {
					return
				}
			case quill.ParseFailed:
				errs <- quill.Wrap(quill.ErrorInternal, "malformed response frame", err)
				return
			default:
				return
			}
		}
	}()

	fw := &pipeFrameWriter{pw: pw}
	return fw, msgs, done, errs, nil
}

// pipeFrameWriter writes frames into the request body pipe, then closes it
// once the caller has observed END_STREAM — the client-side analogue of
// chunkFrameWriter.
type pipeFrameWriter struct {
	pw     *io.PipeWriter
	buf    []byte
	closed atomic.Bool
}

func (w *pipeFrameWriter) WriteFrame(flags quill.Flags, payload []byte) error {
	var err error
	w.buf, err = quill.AppendFrame(w.buf[:0], flags, payload, 0)
	if err != nil {
		return err
	}
	if _, err := w.pw.Write(w.buf); err != nil {
		return err
	}
	if flags.Has(quill.FlagEndStream) && w.closed.CompareAndSwap(false, true) {
		return w.pw.Close()
	}
	return nil
}

// quillProblemError adapts a decoded Problem Details body back into a
// *quill.Error (exposed through Unwrap) so client callers see the same
// canonical error kind the server handler originally raised.
type quillProblemError struct {
	p *quill.Problem
}

// Unwrap returns the canonical *quill.Error whose type URI matches the
// problem's, or nil when no kind matches.
func (e *quillProblemError) Unwrap() error {
	for k := quill.ErrorUnknown; k <= quill.ErrorTooEarly; k++ {
		if k.TypeURI() == e.p.Type {
			return quill.NewError(k, e.p.Detail)
		}
	}
	return nil
}

func (e *quillProblemError) Error() string {
	var b bytes.Buffer
	b.WriteString(e.p.Title)
	if e.p.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.p.Detail)
	}
	return b.String()
}

package turbo

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/jeffhajewski/quill"
)

// Client is the Turbo ClientAdapter, built on golang.org/x/net/http2's
// Transport — the same H2 client library the teacher benchmarks against in
// benchmark/nethttp2. Unlike Classic, one underlying connection can carry
// many concurrent OpenStream calls; http2.Transport's own connection
// pooling provides that for free.
type Client struct {
	hc   *http.Client
	addr string
}

// Dial constructs a Turbo ClientAdapter for addr.
func Dial(ctx context.Context, addr string, opts *quill.DialOptions) (quill.ClientAdapter, error) {
	t := &http2.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: opts.TLSServerName,
		},
	}
	return &Client{hc: &http.Client{Transport: t}, addr: addr}, nil
}

func (c *Client) Profile() quill.Profile { return quill.ProfileTurbo }

func (c *Client) Close() error { return nil }

// OpenStream issues one H2 request whose body is fed by the returned
// FrameWriter and whose response body is streamed back frame-by-frame as
// soon as bytes arrive — true concurrency comes from H2 multiplexing
// multiple such requests over one TCP connection.
func (c *Client) OpenStream(ctx context.Context, cctx *quill.CallCtx) (quill.FrameWriter, <-chan []byte, <-chan struct{}, <-chan error, error) {
	pr, pw := io.Pipe()

	msgs := make(chan []byte, 16)
	done := make(chan struct{})
	errs := make(chan error, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+c.addr+cctx.MethodPath(), pr)
	if err != nil {
		return nil, nil, nil, nil, quill.Wrap(quill.ErrorInvalidArgument, "failed to build turbo request", err)
	}
	req.Header.Set("Content-Type", "application/proto")

	go func() {
		defer close(done)
		defer close(msgs)

		resp, err := c.hc.Do(req)
		if err != nil {
			errs <- quill.Wrap(quill.ErrorUnavailable, "turbo transport request failed", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			problem, perr := quill.DecodeProblem(body)
			if perr == nil {
				errs <- &turboProblemError{problem}
				return
			}
			errs <- quill.NewError(quill.ErrorInternal, "request failed with no problem body")
			return
		}

		parser := quill.NewParser(0)
		buf := make([]byte, 16*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				parser.Feed(buf[:n])
				for {
					outcome, flags, payload, perr := parser.Poll()
					if outcome == quill.FrameReady {
						if flags.Has(quill.FlagData) {
							msgs <- payload
						}
						if flags.Has(quill.FlagEndStream) {
							return
						}
						continue
					}
					if outcome == quill.ParseFailed {
						errs <- quill.Wrap(quill.ErrorInternal, "malformed response frame", perr)
						return
					}
					break
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	fw := &pipeFrameWriter{pw: pw}
	return fw, msgs, done, errs, nil
}

// pipeFrameWriter writes frames into the request body pipe, closing it once
// END_STREAM is observed — mirrors transport/classic's writer of the same
// name, duplicated rather than shared since the two transports' client
// packages must not import each other (§4.6 keeps transports independent).
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

type turboProblemError struct {
	p *quill.Problem
}

func (e *turboProblemError) Error() string {
	var b bytes.Buffer
	b.WriteString(e.p.Title)
	if e.p.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.p.Detail)
	}
	return b.String()
}

package hyper

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"

	"github.com/jeffhajewski/quill"
)

// Client is the Hyper ClientAdapter: one QUIC connection, potentially many
// concurrently open streams, each starting with the path/0-RTT handshake
// readHandshake on the server side expects.
type Client struct {
	conn quic.Connection
	addr string
}

// Dial establishes a QUIC connection to addr. opts.TLSServerName sets SNI;
// 0-RTT is attempted automatically by quic-go when session resumption state
// is available from a prior Dial to the same addr.
func Dial(ctx context.Context, addr string, opts *quill.DialOptions) (quill.ClientAdapter, error) {
	tlsConf := &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: opts.TLSServerName,
		NextProtos: []string{"quill-hyper"},
	}
	conn, err := quic.DialAddrEarly(ctx, addr, tlsConf, &quic.Config{Allow0RTT: true})
	if err != nil {
		return nil, quill.Wrap(quill.ErrorUnavailable, "failed to dial hyper transport", err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

func (c *Client) Profile() quill.Profile { return quill.ProfileHyper }

func (c *Client) Close() error { return c.conn.CloseWithError(0, "") }

// OpenStream opens one bidirectional QUIC stream, writes the handshake
// (path + idempotency/ticket fields for 0-RTT gating), and returns a
// FrameWriter plus the decoded inbound message channel, mirroring Classic's
// and Turbo's OpenStream shape even though the underlying transport is a
// native bidirectional stream rather than a request/response pair.
func (c *Client) OpenStream(ctx context.Context, cctx *quill.CallCtx) (quill.FrameWriter, <-chan []byte, <-chan struct{}, <-chan error, error) {
	qs, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, nil, nil, quill.Wrap(quill.ErrorUnavailable, "failed to open hyper stream", err)
	}

	idempotentAttempt := false
	ticketID := ""
	if cctx.Metadata != nil {
		if v := cctx.Metadata.Get("quill-0rtt-ticket"); v != "" {
			idempotentAttempt = true
			ticketID = v
		}
	}
	hdr := appendHandshake(nil, cctx.MethodPath(), idempotentAttempt, ticketID)
	if _, err := qs.Write(hdr); err != nil {
		return nil, nil, nil, nil, quill.Wrap(quill.ErrorUnavailable, "failed to write hyper handshake", err)
	}

	msgs := make(chan []byte, 32)
	done := make(chan struct{})
	errs := make(chan error, 1)
	go feedFromReader(qs, cctx.Stream, quill.DefaultMaxFrameBytes, msgs, done, errs)

	return &quicFrameWriter{w: qs}, msgs, done, errs, nil
}

package quill

import "time"

// Default resource limits, per §6 of the wire substrate design. Every
// constructor (Server, Dialer, Parser, FlowController) accepts an override
// but falls back to these when the caller leaves the field at its zero
// value — the same "zero value means default" idiom the teacher uses for
// its ConnOpts/ClientOpts structs.
const (
	DefaultMaxFrameBytes        = 4 << 20 // 4 MiB
	DefaultMaxStreamsPerConn    = 100
	DefaultZstdThresholdBytes   = 1024
	DefaultInitialCredit        = 16
	DefaultCreditRefill         = 8
	DefaultIdleTimeout          = 60 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMaxIdlePerHost       = 8
	DefaultPingInterval         = 15 * time.Second
)

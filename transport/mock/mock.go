// Package mock provides a behavior-function transport producing scripted
// outcomes without any hardware. It backs tests and the CLI's dry-run
// adapter.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/mklimuk/sccb"
)

// TransmitFunc scripts the outcome of a single transfer. The function may
// fill r in place like a real transport would.
type TransmitFunc func(ctx context.Context, w, r []byte) (sccb.TransferOutcome, error)

// InitFunc optionally scripts session establishment failures.
type InitFunc func(ctx context.Context, cfg sccb.ConnectionConfig) error

var _ sccb.Transport = &Transport{}

type Transport struct {
	transmit TransmitFunc
	init     InitFunc

	initCount    int64
	disposeCount int64
}

// New builds a transport whose every session runs transfers through the
// given behavior function.
func New(transmit TransmitFunc) *Transport {
	return &Transport{transmit: transmit}
}

// Echo builds a full-success transport that fills every read buffer with the
// given pattern byte.
func Echo(fill byte) *Transport {
	return New(func(_ context.Context, w, r []byte) (sccb.TransferOutcome, error) {
		for i := range r {
			r[i] = fill
		}
		return sccb.TransferOutcome{
			BytesTransferred: uint(len(w) + len(r)),
			Status:           sccb.StatusFullTransfer,
		}, nil
	})
}

// WithInit adds scripted session establishment behavior.
func (t *Transport) WithInit(init InitFunc) *Transport {
	t.init = init
	return t
}

func (t *Transport) Init(ctx context.Context, cfg sccb.ConnectionConfig) (sccb.TransportHandle, error) {
	if t.init != nil {
		if err := t.init(ctx, cfg); err != nil {
			return nil, err
		}
	}
	atomic.AddInt64(&t.initCount, 1)
	return &handle{transport: t}, nil
}

// InitCount reports how many sessions were established.
func (t *Transport) InitCount() int {
	return int(atomic.LoadInt64(&t.initCount))
}

// DisposeCount reports how many sessions were torn down.
func (t *Transport) DisposeCount() int {
	return int(atomic.LoadInt64(&t.disposeCount))
}

type handle struct {
	transport *Transport
}

func (h *handle) Transmit(ctx context.Context, w, r []byte) (sccb.TransferOutcome, error) {
	return h.transport.transmit(ctx, w, r)
}

func (h *handle) Dispose(ctx context.Context) error {
	atomic.AddInt64(&h.transport.disposeCount, 1)
	return nil
}

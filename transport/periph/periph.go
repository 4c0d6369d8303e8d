// Package periph implements the sccb transport over Linux kernel I2C buses
// using the periph.io host drivers.
package periph

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mklimuk/sccb"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var hostOnce sync.Once
var hostErr error

var _ sccb.Transport = &Transport{}

// Transport opens kernel I2C buses through the periph.io registry. The
// zero value is not usable; call New.
type Transport struct{}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Init(ctx context.Context, cfg sccb.ConnectionConfig) (sccb.TransportHandle, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("could not init host: %w", hostErr)
	}
	bus, err := i2creg.Open(strconv.Itoa(cfg.BusID()))
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %d: %w", cfg.BusID(), err)
	}
	// sysfs buses commonly reject runtime clock changes, the configured
	// kernel speed stays in effect then
	_ = bus.SetSpeed(physic.Frequency(cfg.BusSpeed().Frequency()) * physic.Hertz)
	return &handle{bus: bus, addr: cfg.DeviceAddress()}, nil
}

type handle struct {
	bus  i2c.BusCloser
	addr uint16
}

// Transmit delegates to the kernel's combined transaction. devfs does not
// report per-byte progress or distinguish a NACK from other faults portably,
// so a fault surfaces as an error rather than a classified outcome.
func (h *handle) Transmit(ctx context.Context, w, r []byte) (sccb.TransferOutcome, error) {
	if len(w) == 0 && len(r) == 0 {
		return sccb.TransferOutcome{Status: sccb.StatusFullTransfer}, nil
	}
	if err := h.bus.Tx(h.addr, w, r); err != nil {
		return sccb.TransferOutcome{Status: sccb.StatusUnknownError}, fmt.Errorf("transfer to %#x failed: %w", h.addr, err)
	}
	return sccb.TransferOutcome{
		BytesTransferred: uint(len(w) + len(r)),
		Status:           sccb.StatusFullTransfer,
	}, nil
}

func (h *handle) Dispose(ctx context.Context) error {
	return h.bus.Close()
}

// Package gobot bridges Gobot platform adaptors (nanopi, raspi, ...) into
// the sccb transport contract, so any board with a Gobot I2C connector can
// back a device channel.
package gobot

import (
	"context"
	"fmt"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/sccb"
)

var _ sccb.Transport = &Transport{}

// Transport wraps a Gobot i2c.Connector. The adaptor must be connected
// (adaptor.Connect()) before the first Init call; bus speed selection is the
// adaptor's concern and the configured class is not applied here.
type Transport struct {
	connector i2c.Connector
}

func New(connector i2c.Connector) *Transport {
	return &Transport{connector: connector}
}

func (t *Transport) Init(ctx context.Context, cfg sccb.ConnectionConfig) (sccb.TransportHandle, error) {
	conn, err := t.connector.GetI2cConnection(int(cfg.DeviceAddress()), cfg.BusID())
	if err != nil {
		return nil, fmt.Errorf("could not get i2c connection on bus %d: %w", cfg.BusID(), err)
	}
	return &handle{conn: conn, addr: cfg.DeviceAddress()}, nil
}

type handle struct {
	conn i2c.Connection
	addr uint16
}

// Transmit issues the write and read phases as two sequential operations on
// the Gobot connection. Whether a restart condition separates them depends
// on the adaptor; sysfs-backed adaptors issue a stop in between.
func (h *handle) Transmit(ctx context.Context, w, r []byte) (sccb.TransferOutcome, error) {
	var moved uint
	if len(w) > 0 {
		n, err := h.conn.Write(w)
		if err != nil {
			return sccb.TransferOutcome{Status: sccb.StatusUnknownError}, fmt.Errorf("write to %#x failed: %w", h.addr, err)
		}
		moved += uint(n)
		if n < len(w) {
			// the read phase is never attempted after a short write
			return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusPartialTransfer}, nil
		}
	}
	if len(r) > 0 {
		n, err := h.conn.Read(r)
		if err != nil {
			return sccb.TransferOutcome{Status: sccb.StatusUnknownError}, fmt.Errorf("read from %#x failed: %w", h.addr, err)
		}
		moved += uint(n)
		if n < len(r) {
			return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusPartialTransfer}, nil
		}
	}
	return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusFullTransfer}, nil
}

func (h *handle) Dispose(ctx context.Context) error {
	if err := h.conn.Close(); err != nil {
		return fmt.Errorf("could not close i2c connection: %w", err)
	}
	return nil
}

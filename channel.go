package sccb

import (
	"context"
	"fmt"
	"sync"
)

// DeviceChannel is the serialized gateway to one device on the bus. All
// transfer methods and Close funnel through a single mutex and a single
// TransportHandle.Transmit call, so at most one transaction is in flight
// against the underlying session at any time. Channels are safe for use
// from multiple goroutines; concurrent transfers are totally ordered by
// lock acquisition.
//
// A channel must be released with Close; Go offers no reliable finalization,
// so the usual pattern is
//
//	ch, err := sccb.Open(ctx, transport, cfg)
//	if err != nil { ... }
//	defer ch.Close(ctx)
type DeviceChannel struct {
	mx      sync.Mutex
	cfg     ConnectionConfig
	handle  TransportHandle
	scratch [1]byte
	closed  bool
}

// Open initializes a transport session for cfg and returns the channel that
// owns it. On init failure no resource is retained and there is nothing to
// close.
func Open(ctx context.Context, transport Transport, cfg ConnectionConfig) (*DeviceChannel, error) {
	handle, err := transport.Init(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport init failed (%s): %w", cfg, err)
	}
	return &DeviceChannel{cfg: cfg.Clone(), handle: handle}, nil
}

// ReadByte reads a single byte from the device.
func (c *DeviceChannel) ReadByte(ctx context.Context) (byte, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return 0, ErrChannelClosed
	}
	_, err := c.handle.Transmit(ctx, nil, c.scratch[:])
	if err != nil {
		return 0, fmt.Errorf("read from %#x failed: %w", c.cfg.address, err)
	}
	return c.scratch[0], nil
}

// Read fills buffer from the device in a read-only transaction. The buffer is
// populated in place up to the outcome's BytesTransferred.
func (c *DeviceChannel) Read(ctx context.Context, buffer []byte) (TransferOutcome, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return TransferOutcome{}, ErrChannelClosed
	}
	out, err := c.handle.Transmit(ctx, nil, buffer)
	if err != nil {
		return out, fmt.Errorf("read from %#x failed: %w", c.cfg.address, err)
	}
	return out, nil
}

// WriteByte writes a single byte to the device.
func (c *DeviceChannel) WriteByte(ctx context.Context, value byte) (TransferOutcome, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return TransferOutcome{}, ErrChannelClosed
	}
	c.scratch[0] = value
	out, err := c.handle.Transmit(ctx, c.scratch[:], nil)
	if err != nil {
		return out, fmt.Errorf("write to %#x failed: %w", c.cfg.address, err)
	}
	return out, nil
}

// Write sends buffer to the device in a write-only transaction.
func (c *DeviceChannel) Write(ctx context.Context, buffer []byte) (TransferOutcome, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return TransferOutcome{}, ErrChannelClosed
	}
	out, err := c.handle.Transmit(ctx, buffer, nil)
	if err != nil {
		return out, fmt.Errorf("write to %#x failed: %w", c.cfg.address, err)
	}
	return out, nil
}

// WriteRead performs a combined transaction: the write phase, a bus restart
// condition, then the read phase, with no other transfer on this channel
// interleaved. BytesTransferred counts the write phase first, then the read
// phase: on a partial outcome a count not exceeding len(writeBuffer) means
// the read phase moved no bytes.
func (c *DeviceChannel) WriteRead(ctx context.Context, writeBuffer, readBuffer []byte) (TransferOutcome, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return TransferOutcome{}, ErrChannelClosed
	}
	out, err := c.handle.Transmit(ctx, writeBuffer, readBuffer)
	if err != nil {
		return out, fmt.Errorf("combined transfer to %#x failed: %w", c.cfg.address, err)
	}
	return out, nil
}

// Close disposes the transport session. It waits for any in-flight transfer
// to release the channel before tearing down, and is idempotent: only the
// first call reaches the transport.
func (c *DeviceChannel) Close(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.handle.Dispose(ctx); err != nil {
		return fmt.Errorf("transport dispose failed: %w", err)
	}
	return nil
}

// ConnectionConfig returns the channel's own copy of the connection config.
func (c *DeviceChannel) ConnectionConfig() ConnectionConfig {
	return c.cfg.Clone()
}

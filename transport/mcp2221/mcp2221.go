// Package mcp2221 implements the sccb transport over the Microchip
// MCP2221/MCP2221A USB-to-I2C bridge using raw HID frames.
package mcp2221

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/sccb"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// every exchange with the adapter is a 64-byte HID frame; 4 bytes of header
// leave 60 bytes of payload per transfer phase
const frameSize = 64
const maxPayload = frameSize - 4

// command codes (datasheet section 3.1)
const (
	cmdStatusSetParams = 0x10
	cmdGetData         = 0x40
	cmdWrite           = 0x90
	cmdRead            = 0x91
	cmdReadRepStart    = 0x93
	cmdWriteNoStop     = 0x94
)

// internal I2C engine state machine values reported in the status frame
const (
	stateIdle            = 0x00
	stateStartTimeout    = 0x12
	stateRepStartTimeout = 0x17
	stateAddrTimeout     = 0x23
	stateAddrNACK        = 0x25
	stateWriteTimeout    = 0x44
	stateWritingNoStop   = 0x45
	stateReadTimeout     = 0x52
	stateStopTimeout     = 0x62
)

const adapterClock = 12_000_000

var _ sccb.Transport = &Transport{}

// Transport locates the adapter over USB HID and opens one bus session per
// channel. When several adapters are plugged in the device index must be
// given explicitly.
type Transport struct {
	responseWait time.Duration
	deviceIndex  int
}

type TransportOption func(*Transport)

// WithResponseWait overrides the delay between sending a command frame and
// polling the adapter for its response.
func WithResponseWait(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.responseWait = d
	}
}

// WithDeviceIndex selects one adapter when several are connected.
func WithDeviceIndex(idx int) TransportOption {
	return func(t *Transport) {
		t.deviceIndex = idx
	}
}

func New(opts ...TransportOption) *Transport {
	t := &Transport{
		responseWait: 50 * time.Millisecond,
		deviceIndex:  -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) open() (*hid.Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if len(devs) > 1 && t.deviceIndex < 0 {
		return nil, fmt.Errorf("ambiguous device identification")
	}
	idx := t.deviceIndex
	if idx < 0 {
		idx = 0
	}
	if idx >= len(devs) {
		return nil, fmt.Errorf("no device with index %d", idx)
	}
	dev, err := devs[idx].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (t *Transport) Init(ctx context.Context, cfg sccb.ConnectionConfig) (sccb.TransportHandle, error) {
	dev, err := t.open()
	if err != nil {
		return nil, err
	}
	h := &handle{
		dev:          dev,
		addr:         cfg.DeviceAddress(),
		request:      make([]byte, frameSize),
		response:     make([]byte, frameSize),
		responseWait: t.responseWait,
	}
	if err := h.configure(ctx, cfg.BusSpeed()); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return h, nil
}

// Status reads the adapter's status frame without opening a bus session.
func (t *Transport) Status(ctx context.Context) (*Status, error) {
	dev, err := t.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = dev.Close() }()
	h := &handle{dev: dev, request: make([]byte, frameSize), response: make([]byte, frameSize), responseWait: t.responseWait}
	return h.status(ctx)
}

// Cancel aborts any pending transfer left in the adapter's I2C engine and
// returns the resulting status.
func (t *Transport) Cancel(ctx context.Context) (*Status, error) {
	dev, err := t.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = dev.Close() }()
	h := &handle{dev: dev, request: make([]byte, frameSize), response: make([]byte, frameSize), responseWait: t.responseWait}
	h.resetBuffers()
	h.request[0] = cmdStatusSetParams
	h.request[2] = 0x10
	if err := h.command(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return decodeStatus(h.response), nil
}

// Status mirrors the adapter's status frame fields relevant to bus
// diagnostics.
type Status struct {
	EngineState           byte   `yaml:"engine_state"`
	DataBufferCounter     int    `yaml:"data_buffer_counter"`
	SpeedDivider          int    `yaml:"speed_divider"`
	Timeout               int    `yaml:"timeout"`
	CurrentAddress        string `yaml:"current_address"`
	RequestedTransferSize uint16 `yaml:"requested_transfer_size"`
	TransferredBytes      uint16 `yaml:"transferred_bytes"`
	ReadPending           int    `yaml:"read_pending"`
}

type handle struct {
	mx           sync.Mutex
	dev          *hid.Device
	addr         uint16
	request      []byte
	response     []byte
	responseWait time.Duration
}

// configure cancels any stale transfer and programs the clock divider for
// the requested speed class in a single parameter frame.
func (h *handle) configure(ctx context.Context, speed sccb.BusSpeed) error {
	h.resetBuffers()
	h.request[0] = cmdStatusSetParams
	h.request[2] = 0x10 // cancel pending transfer
	h.request[3] = 0x20 // set communication speed
	h.request[4] = speedDivider(speed)
	if err := h.command(ctx); err != nil {
		return fmt.Errorf("could not configure adapter: %w", err)
	}
	// 0x21 in the speed echo byte means the engine refused the new divider
	if h.response[3] == 0x21 {
		return fmt.Errorf("could not set bus speed to %s: %w", speed, sccb.ErrBusBusy)
	}
	return nil
}

func (h *handle) Transmit(ctx context.Context, w, r []byte) (sccb.TransferOutcome, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if len(w) > maxPayload || len(r) > maxPayload {
		return sccb.TransferOutcome{Status: sccb.StatusUnknownError},
			fmt.Errorf("transfer of %d+%d bytes exceeds the adapter frame capacity of %d", len(w), len(r), maxPayload)
	}
	requested := uint(len(w) + len(r))
	if requested == 0 {
		return sccb.TransferOutcome{Status: sccb.StatusFullTransfer}, nil
	}
	var moved uint
	var state byte = stateIdle
	if len(w) > 0 {
		cmd := byte(cmdWrite)
		if len(r) > 0 {
			// park the engine without a stop condition so the read phase
			// starts with a repeated-start
			cmd = cmdWriteNoStop
		}
		written, st, err := h.writePhase(ctx, cmd, w)
		if err != nil {
			return sccb.TransferOutcome{Status: sccb.StatusUnknownError}, err
		}
		moved += written
		state = st
		if written < uint(len(w)) {
			// write phase stalled, the read phase is never attempted
			return classify(moved, requested, state), nil
		}
	}
	if len(r) > 0 {
		cmd := byte(cmdRead)
		if len(w) > 0 {
			cmd = cmdReadRepStart
		}
		read, st, err := h.readPhase(ctx, cmd, r)
		if err != nil {
			return sccb.TransferOutcome{Status: sccb.StatusUnknownError}, err
		}
		moved += read
		if st != stateIdle {
			state = st
		}
	}
	return classify(moved, requested, state), nil
}

func (h *handle) Dispose(ctx context.Context) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.dev.Close(); err != nil {
		return fmt.Errorf("could not close adapter device: %w", err)
	}
	return nil
}

func (h *handle) writePhase(ctx context.Context, cmd byte, w []byte) (uint, byte, error) {
	h.resetBuffers()
	h.request[0] = cmd
	binary.LittleEndian.PutUint16(h.request[1:3], uint16(len(w)))
	h.request[3] = byte(h.addr << 1)
	copy(h.request[4:], w)
	if err := h.command(ctx); err != nil {
		return 0, stateIdle, fmt.Errorf("write to %#x failed: %w", h.addr, err)
	}
	if h.response[1] == 0x01 {
		slog.Debug("adapter busy")
		return 0, stateIdle, sccb.ErrBusBusy
	}
	// the engine clocks the frame out asynchronously; the status frame
	// carries the final state machine value and the transferred count
	st, err := h.status(ctx)
	if err != nil {
		return 0, stateIdle, err
	}
	if st.EngineState == stateIdle {
		return uint(len(w)), stateIdle, nil
	}
	if cmd == cmdWriteNoStop && st.EngineState == stateWritingNoStop {
		// parked between the write and the repeated-start read
		return uint(len(w)), stateIdle, nil
	}
	written := uint(st.TransferredBytes)
	if written > uint(len(w)) {
		written = uint(len(w))
	}
	return written, st.EngineState, nil
}

func (h *handle) readPhase(ctx context.Context, cmd byte, r []byte) (uint, byte, error) {
	h.resetBuffers()
	h.request[0] = cmd
	binary.LittleEndian.PutUint16(h.request[1:3], uint16(len(r)))
	h.request[3] = byte(h.addr<<1) | 0x01
	if err := h.command(ctx); err != nil {
		return 0, stateIdle, fmt.Errorf("bus read from %#x failed: %w", h.addr, err)
	}
	if h.response[1] == 0x01 {
		slog.Debug("adapter busy")
		return 0, stateIdle, sccb.ErrBusBusy
	}
	// fetch the bytes the engine clocked in
	h.resetBuffers()
	h.request[0] = cmdGetData
	if err := h.command(ctx); err != nil {
		return 0, stateIdle, fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if h.response[1] == 0x41 || h.response[3] == 127 {
		// the engine could not complete the read, classify from its state
		st, err := h.status(ctx)
		if err != nil {
			return 0, stateIdle, err
		}
		return 0, st.EngineState, nil
	}
	n := int(h.response[3])
	if n > len(r) {
		n = len(r)
	}
	copy(r[:n], h.response[4:4+n])
	return uint(n), stateIdle, nil
}

func (h *handle) status(ctx context.Context) (*Status, error) {
	h.resetBuffers()
	h.request[0] = cmdStatusSetParams
	if err := h.command(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return decodeStatus(h.response), nil
}

func decodeStatus(frame []byte) *Status {
	/*
		8:  internal I2C engine state machine value
		9:  lower byte (16-bit value) of the requested I2C transfer length
		10: higher byte (16-bit value) of the requested I2C transfer length
		11: lower byte (16-bit value) of the already transferred number of bytes
		12: higher byte (16-bit value) of the already transferred number of bytes
		13: internal I2C data buffer counter
		14: current I2C communication speed divider value
		15: current I2C timeout value
		16: lower byte (16-bit value) of the I2C address being used
		17: higher byte (16-bit value) of the I2C address being used
		25: pending read count
	*/
	return &Status{
		EngineState:           frame[8],
		DataBufferCounter:     int(frame[13]),
		SpeedDivider:          int(frame[14]),
		Timeout:               int(frame[15]),
		CurrentAddress:        hex.EncodeToString(frame[16:18]),
		RequestedTransferSize: binary.LittleEndian.Uint16(frame[9:11]),
		TransferredBytes:      binary.LittleEndian.Uint16(frame[11:13]),
		ReadPending:           int(frame[25]),
	}
}

// classify maps the engine's final state and the cumulative byte count onto
// the transfer status taxonomy. An address NACK on a later phase of a
// combined transfer surfaces as a partial outcome since bytes already moved.
func classify(moved, requested uint, state byte) sccb.TransferOutcome {
	switch {
	case moved == requested:
		return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusFullTransfer}
	case state == stateAddrNACK && moved == 0:
		return sccb.TransferOutcome{Status: sccb.StatusAddressNACK}
	case stateTimeout(state):
		return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusClockStretchTimeout}
	case moved > 0:
		return sccb.TransferOutcome{BytesTransferred: moved, Status: sccb.StatusPartialTransfer}
	default:
		return sccb.TransferOutcome{Status: sccb.StatusUnknownError}
	}
}

func stateTimeout(state byte) bool {
	switch state {
	case stateStartTimeout, stateRepStartTimeout, stateAddrTimeout,
		stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return true
	}
	return false
}

// speedDivider derives the adapter's clock divider from the nominal bus
// frequency (the engine runs off a 12MHz clock).
func speedDivider(s sccb.BusSpeed) byte {
	return byte(adapterClock/int(s.Frequency()) - 3)
}

func (h *handle) command(ctx context.Context) error {
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.Debug("sending frame to adapter", "frame", hex.EncodeToString(h.request))
	}
	n, err := h.dev.Write(h.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != frameSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.responseWait):
	}
	n, err = h.dev.Read(h.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != frameSize {
		return fmt.Errorf("short read: %d", n)
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.Debug("read frame from adapter", "frame", hex.EncodeToString(h.response))
	}
	return nil
}

func (h *handle) resetBuffers() {
	resetBuffer(h.request)
	resetBuffer(h.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}

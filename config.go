package sccb

import "fmt"

// BusSpeed selects the clock frequency class used for the two-wire signaling.
type BusSpeed int

const (
	// Fast mode (~400kHz) is the default for camera control buses.
	Fast BusSpeed = iota
	// Standard mode (~100kHz)
	Standard
)

func (s BusSpeed) String() string {
	switch s {
	case Standard:
		return "standard"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// Frequency returns the nominal bus clock in Hz.
func (s BusSpeed) Frequency() uint32 {
	if s == Standard {
		return 100_000
	}
	return 400_000
}

// ConnectionConfig identifies one device endpoint: which bus, which 7-bit
// address and at what clock speed. Values are fixed at construction; a channel
// keeps its own copy so callers cannot alias an open channel's identity.
type ConnectionConfig struct {
	busID   int
	address uint16
	speed   BusSpeed
}

// Option adjusts optional connection parameters.
type Option func(*ConnectionConfig)

// WithBusSpeed overrides the default Fast clock class.
func WithBusSpeed(s BusSpeed) Option {
	return func(c *ConnectionConfig) {
		c.speed = s
	}
}

// NewConnectionConfig builds a validated config for the device at address on
// bus busID. The address is the 7-bit form, without the read/write bit.
func NewConnectionConfig(busID int, address uint16, opts ...Option) (ConnectionConfig, error) {
	if busID < 0 {
		return ConnectionConfig{}, fmt.Errorf("%w: negative bus id %d", ErrInvalidConfig, busID)
	}
	if address > 0x7F {
		return ConnectionConfig{}, fmt.Errorf("%w: address %#x out of 7-bit range", ErrInvalidConfig, address)
	}
	cfg := ConnectionConfig{busID: busID, address: address, speed: Fast}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

func (c ConnectionConfig) BusID() int {
	return c.busID
}

func (c ConnectionConfig) DeviceAddress() uint16 {
	return c.address
}

func (c ConnectionConfig) BusSpeed() BusSpeed {
	return c.speed
}

// Clone returns an independent copy with identical field values.
func (c ConnectionConfig) Clone() ConnectionConfig {
	return c
}

func (c ConnectionConfig) String() string {
	return fmt.Sprintf("bus %d, address %#x, %s mode", c.busID, c.address, c.speed)
}

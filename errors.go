package sccb

import "errors"

// ErrChannelClosed is returned by any channel operation issued after Close.
var ErrChannelClosed = errors.New("sccb: channel is closed")

// ErrInvalidConfig wraps connection parameter validation failures.
var ErrInvalidConfig = errors.New("sccb: invalid connection config")

// ErrBusBusy signals that the bus engine did not accept a command because a
// previous transfer is still pending on the adapter side.
var ErrBusBusy = errors.New("sccb: bus engine is busy (command not completed)")

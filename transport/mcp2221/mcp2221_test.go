package mcp2221

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mklimuk/sccb"
)

func TestSpeedDivider(t *testing.T) {
	assert.Equal(t, byte(27), speedDivider(sccb.Fast))
	assert.Equal(t, byte(117), speedDivider(sccb.Standard))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		moved     uint
		requested uint
		state     byte
		expected  sccb.TransferOutcome
	}{
		{
			name: "full write", moved: 8, requested: 8, state: stateIdle,
			expected: sccb.TransferOutcome{BytesTransferred: 8, Status: sccb.StatusFullTransfer},
		},
		{
			name: "address nack", moved: 0, requested: 2, state: stateAddrNACK,
			expected: sccb.TransferOutcome{Status: sccb.StatusAddressNACK},
		},
		{
			name: "nack after bytes moved is partial", moved: 1, requested: 5, state: stateAddrNACK,
			expected: sccb.TransferOutcome{BytesTransferred: 1, Status: sccb.StatusPartialTransfer},
		},
		{
			name: "write timeout", moved: 3, requested: 8, state: stateWriteTimeout,
			expected: sccb.TransferOutcome{BytesTransferred: 3, Status: sccb.StatusClockStretchTimeout},
		},
		{
			name: "read timeout with nothing moved", moved: 0, requested: 4, state: stateReadTimeout,
			expected: sccb.TransferOutcome{Status: sccb.StatusClockStretchTimeout},
		},
		{
			name: "partial without diagnostic state", moved: 3, requested: 5, state: stateIdle,
			expected: sccb.TransferOutcome{BytesTransferred: 3, Status: sccb.StatusPartialTransfer},
		},
		{
			name: "nothing moved unknown state", moved: 0, requested: 4, state: 0x7F,
			expected: sccb.TransferOutcome{Status: sccb.StatusUnknownError},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, classify(test.moved, test.requested, test.state))
		})
	}
}

func TestStateTimeout(t *testing.T) {
	for _, state := range []byte{stateStartTimeout, stateRepStartTimeout, stateAddrTimeout, stateWriteTimeout, stateReadTimeout, stateStopTimeout} {
		assert.True(t, stateTimeout(state), "state %#x", state)
	}
	assert.False(t, stateTimeout(stateIdle))
	assert.False(t, stateTimeout(stateAddrNACK))
	assert.False(t, stateTimeout(stateWritingNoStop))
}

func TestDecodeStatus(t *testing.T) {
	frame := make([]byte, frameSize)
	frame[8] = stateWritingNoStop
	binary.LittleEndian.PutUint16(frame[9:11], 16)
	binary.LittleEndian.PutUint16(frame[11:13], 12)
	frame[13] = 4
	frame[14] = 27
	frame[15] = 32
	frame[16] = 0x42
	frame[17] = 0x00
	frame[25] = 1

	st := decodeStatus(frame)
	assert.Equal(t, byte(stateWritingNoStop), st.EngineState)
	assert.Equal(t, uint16(16), st.RequestedTransferSize)
	assert.Equal(t, uint16(12), st.TransferredBytes)
	assert.Equal(t, 4, st.DataBufferCounter)
	assert.Equal(t, 27, st.SpeedDivider)
	assert.Equal(t, 32, st.Timeout)
	assert.Equal(t, "4200", st.CurrentAddress)
	assert.Equal(t, 1, st.ReadPending)
}

package sccb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandle is a behavior-function transport session used to script bus
// outcomes without hardware. It tracks concurrent Transmit entries the same
// way the adapter mocks do, so tests can assert that the channel never lets
// two transfers overlap.
type stubHandle struct {
	transmit func(ctx context.Context, w, r []byte) (TransferOutcome, error)

	mu            sync.Mutex
	transmits     int64
	disposeCalls  int64
	concurrentOps int64
	maxConcurrent int64

	lastWrite []byte
	lastRead  []byte
}

func (s *stubHandle) Transmit(ctx context.Context, w, r []byte) (TransferOutcome, error) {
	concurrent := atomic.AddInt64(&s.concurrentOps, 1)
	if concurrent > atomic.LoadInt64(&s.maxConcurrent) {
		atomic.StoreInt64(&s.maxConcurrent, concurrent)
	}
	atomic.AddInt64(&s.transmits, 1)

	s.mu.Lock()
	s.lastWrite = append([]byte(nil), w...)
	s.lastRead = r
	s.mu.Unlock()

	out, err := s.transmit(ctx, w, r)

	atomic.AddInt64(&s.concurrentOps, -1)
	return out, err
}

func (s *stubHandle) Dispose(ctx context.Context) error {
	atomic.AddInt64(&s.disposeCalls, 1)
	return nil
}

// fullSuccess scripts a transport that moves every requested byte and fills
// read buffers with the given pattern byte.
func fullSuccess(fill byte) func(ctx context.Context, w, r []byte) (TransferOutcome, error) {
	return func(_ context.Context, w, r []byte) (TransferOutcome, error) {
		for i := range r {
			r[i] = fill
		}
		return TransferOutcome{BytesTransferred: uint(len(w) + len(r)), Status: StatusFullTransfer}, nil
	}
}

type stubTransport struct {
	handle  *stubHandle
	initErr error
}

func (s *stubTransport) Init(ctx context.Context, cfg ConnectionConfig) (TransportHandle, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.handle, nil
}

func mustConfig(t *testing.T) ConnectionConfig {
	t.Helper()
	cfg, err := NewConnectionConfig(0, 0x21)
	require.NoError(t, err)
	return cfg
}

func TestOpen_InitFailure(t *testing.T) {
	boom := errors.New("bus unavailable")
	ch, err := Open(context.Background(), &stubTransport{initErr: boom}, mustConfig(t))
	assert.Nil(t, ch)
	assert.ErrorIs(t, err, boom)
}

func TestDeviceChannel_WriteByte(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x00)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	out, err := ch.WriteByte(context.Background(), 0x55)
	require.NoError(t, err)
	assert.Equal(t, TransferOutcome{BytesTransferred: 1, Status: StatusFullTransfer}, out)
	assert.Equal(t, []byte{0x55}, handle.lastWrite)
	assert.Nil(t, handle.lastRead)
}

func TestDeviceChannel_ReadByte(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0xA7)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	val, err := ch.ReadByte(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0xA7), val)
	assert.Empty(t, handle.lastWrite)
	assert.Len(t, handle.lastRead, 1)
}

func TestDeviceChannel_Write_FullTransferCount(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x00)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	out, err := ch.Write(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, uint(8), out.BytesTransferred)
	assert.Equal(t, StatusFullTransfer, out.Status)
}

func TestDeviceChannel_Read(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x5A)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	buf := make([]byte, 4)
	out, err := ch.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, TransferOutcome{BytesTransferred: 4, Status: StatusFullTransfer}, out)
	assert.Equal(t, []byte{0x5A, 0x5A, 0x5A, 0x5A}, buf)
}

func TestDeviceChannel_WriteRead_PartialOutcomeUnchanged(t *testing.T) {
	// the transport moves the single write byte and only two read bytes,
	// leaving the rest of the read buffer untouched
	handle := &stubHandle{transmit: func(_ context.Context, w, r []byte) (TransferOutcome, error) {
		r[0] = 0x11
		r[1] = 0x22
		return TransferOutcome{BytesTransferred: 3, Status: StatusPartialTransfer}, nil
	}}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	readBuf := make([]byte, 4)
	out, err := ch.WriteRead(context.Background(), []byte{0x10}, readBuf)
	require.NoError(t, err)
	assert.Equal(t, TransferOutcome{BytesTransferred: 3, Status: StatusPartialTransfer}, out)
	assert.Equal(t, []byte{0x11, 0x22, 0x00, 0x00}, readBuf)
}

func TestDeviceChannel_AddressNACK(t *testing.T) {
	handle := &stubHandle{transmit: func(_ context.Context, w, r []byte) (TransferOutcome, error) {
		return TransferOutcome{Status: StatusAddressNACK}, nil
	}}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	out, err := ch.Write(context.Background(), []byte{0xDE, 0xAD})
	require.NoError(t, err)
	assert.Equal(t, uint(0), out.BytesTransferred)
	assert.Equal(t, StatusAddressNACK, out.Status)
}

func TestDeviceChannel_TransportFaultPropagates(t *testing.T) {
	fault := errors.New("usb pipe stalled")
	handle := &stubHandle{transmit: func(_ context.Context, w, r []byte) (TransferOutcome, error) {
		return TransferOutcome{Status: StatusUnknownError}, fault
	}}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	_, err = ch.Write(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, fault)
}

func TestDeviceChannel_CloseIdempotent(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x00)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)

	require.NoError(t, ch.Close(context.Background()))
	require.NoError(t, ch.Close(context.Background()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&handle.disposeCalls))
}

func TestDeviceChannel_ClosedChannelNeverReachesTransport(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x00)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	require.NoError(t, ch.Close(context.Background()))

	ctx := context.Background()
	_, err = ch.ReadByte(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, err = ch.Read(ctx, make([]byte, 2))
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, err = ch.WriteByte(ctx, 0x01)
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, err = ch.Write(ctx, []byte{0x01})
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, err = ch.WriteRead(ctx, []byte{0x01}, make([]byte, 2))
	assert.ErrorIs(t, err, ErrChannelClosed)

	assert.Equal(t, int64(0), atomic.LoadInt64(&handle.transmits))
}

func TestDeviceChannel_ConcurrentTransfersSerialized(t *testing.T) {
	const goroutines = 8
	const transfers = 25

	handle := &stubHandle{transmit: fullSuccess(0x00)}
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, mustConfig(t))
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < transfers; i++ {
				_, err := ch.WriteByte(context.Background(), byte(g))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*transfers), atomic.LoadInt64(&handle.transmits))
	assert.Equal(t, int64(1), atomic.LoadInt64(&handle.maxConcurrent))
}

func TestDeviceChannel_ConnectionConfigAccessor(t *testing.T) {
	handle := &stubHandle{transmit: fullSuccess(0x00)}
	cfg, err := NewConnectionConfig(2, 0x42, WithBusSpeed(Standard))
	require.NoError(t, err)
	ch, err := Open(context.Background(), &stubTransport{handle: handle}, cfg)
	require.NoError(t, err)
	defer func() { _ = ch.Close(context.Background()) }()

	owned := ch.ConnectionConfig()
	assert.Equal(t, 2, owned.BusID())
	assert.Equal(t, uint16(0x42), owned.DeviceAddress())
	assert.Equal(t, Standard, owned.BusSpeed())
}

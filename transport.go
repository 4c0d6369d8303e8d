package sccb

import "context"

// Transport is the platform bus controller behind a DeviceChannel. It owns
// the electrical signaling, clock generation and acknowledgment detection;
// this package only orchestrates and serializes calls into it.
type Transport interface {
	// Init establishes one bus session for the given endpoint. The returned
	// handle supports a single outstanding transaction at a time.
	Init(ctx context.Context, cfg ConnectionConfig) (TransportHandle, error)
}

// TransportHandle is one open session against one device endpoint.
type TransportHandle interface {
	// Transmit performs the write phase for w, then the read phase filling r,
	// as one bus transaction with a restart condition in between. A nil slice
	// skips that phase entirely. Transfer statuses (NACK, timeout, partial)
	// are reported through the outcome; an error return means a transport
	// fault outside the status taxonomy.
	Transmit(ctx context.Context, w, r []byte) (TransferOutcome, error)

	// Dispose tears the session down. The owning channel guarantees it is
	// invoked at most once.
	Dispose(ctx context.Context) error
}

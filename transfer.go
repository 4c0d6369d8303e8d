package sccb

// TransferStatus classifies the result of a single bus transfer.
type TransferStatus int

const (
	StatusUnknownError TransferStatus = iota
	StatusFullTransfer
	StatusClockStretchTimeout
	StatusPartialTransfer
	StatusAddressNACK
)

func (s TransferStatus) String() string {
	switch s {
	case StatusFullTransfer:
		return "full transfer"
	case StatusClockStretchTimeout:
		return "clock stretch timeout"
	case StatusPartialTransfer:
		return "partial transfer"
	case StatusAddressNACK:
		return "slave address not acknowledged"
	default:
		return "unknown error"
	}
}

// TransferOutcome reports how a single transfer went. Statuses are ordinary
// return values, not errors; callers branch on Status. Invariants:
// StatusFullTransfer means BytesTransferred equals the requested total
// (write length plus read length for a combined transfer), StatusAddressNACK
// means no byte moved, StatusPartialTransfer means strictly between the two.
type TransferOutcome struct {
	BytesTransferred uint
	Status           TransferStatus
}

// Ok reports whether the transfer moved every requested byte.
func (o TransferOutcome) Ok() bool {
	return o.Status == StatusFullTransfer
}

package coordinator

import "context"

// TelemetryArchive is an optional sink that appends every ReceiverStatus
// frame to a durable history for later charting; no cap or expiry is applied
// to that history. A nil archive is valid; Dispatcher treats it as
// "archiving disabled".
type TelemetryArchive interface {
	AppendReceiverStatus(ctx context.Context, controllerID int64, values []uint32) error
}

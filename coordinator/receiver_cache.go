package coordinator

import "context"

// ReceiverCache durably remembers the last ReceiverStatus values reported by
// each controller, surviving Dispatcher restarts. The Dispatcher reads it only
// when a controller joins, to seed that controller's in-memory
// connectedController.lastReceiver; ReceiverValues for a controller that is
// not connected returns ErrControllerNotConnected without consulting it.
type ReceiverCache interface {
	Set(ctx context.Context, controllerID int64, values []uint32) error
	Get(ctx context.Context, controllerID int64) ([]uint32, bool, error)
}

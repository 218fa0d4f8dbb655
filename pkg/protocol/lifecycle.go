package protocol

import "context"

// Lifecycle is implemented by background components started by the API
// process, such as the scheduled reconciler.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

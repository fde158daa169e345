package interfaces

import "mentorsync/pkg/types"

// MessageDispatcher accepts validated inbound messages and connection
// teardown from the transport. Both calls feed one ordered queue.
type MessageDispatcher interface {
	// Dispatch queues msg from conn. It must not block on a busy dispatcher.
	Dispatch(conn Connection, msg *types.Message) error

	// Disconnect queues the implicit leave for conn. It blocks until the
	// event is accepted or the dispatcher stops.
	Disconnect(conn Connection) error
}

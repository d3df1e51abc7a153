// Package hal defines the contract shared by every instrument client.
package hal

// Status is an advisory snapshot of an instrument. Values are JSON-safe
// scalars, nested Status maps, or nil for fields that could not be read.
type Status map[string]any

// Instrument is a single physical device owning one transport connection.
// Implementations are not reentrant; callers serialize access.
type Instrument interface {
	// Connect opens and validates the transport to address.
	Connect(address string) error
	// Disconnect releases the transport. Calling it on a disconnected
	// instrument is a no-op.
	Disconnect() error
	IsConnected() bool
	// Query sends a raw command and returns the raw reply.
	Query(cmd string) (string, error)
	Status() Status
}

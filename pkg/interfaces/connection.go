package interfaces

// Connection is a push target for one live client.
// ARCHITECTURAL DISCOVERY: Room membership holds Connections only as handles;
// nothing outside the transport owns their lifetime.
type Connection interface {
	// WriteJSON sends a JSON message to the client. Implementations must be
	// safe for concurrent use.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error

	// ID returns a process-unique identifier for the connection.
	ID() string

	// RemoteAddr returns the source address used for rate limiting.
	RemoteAddr() string
}

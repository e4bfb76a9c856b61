// Package entityerr defines the sentinel error kinds used across the agent.
//
// Call sites wrap one of these with fmt.Errorf("...: %w", ErrX) so callers
// can classify a failure with errors.Is while still getting a readable
// message. The kinds mirror the error taxonomy from the agent design: some
// are fatal at startup, some are per-cycle and recoverable, none of them
// carry retry logic of their own.
package entityerr

import "errors"

var (
	// ErrConfiguration covers bad CLI input, unreadable key material and an
	// unwritable database path. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrPluginRegistration covers a name collision, an unsatisfiable hook
	// ordering, or a hook implementation declaring unknown parameters.
	// Fatal for the offending plugin only.
	ErrPluginRegistration = errors.New("plugin registration error")

	// ErrProducer covers a collector failing during entityd_find_entity or
	// entityd_emit_entities. Logged and skipped for that cycle.
	ErrProducer = errors.New("producer error")

	// ErrTransport covers a full outbound buffer or a socket failure.
	// Never fatal; the sender recycles its connection.
	ErrTransport = errors.New("transport error")

	// ErrSerialization covers an update that cannot be encoded to the wire
	// format. Logged and skipped for that single update.
	ErrSerialization = errors.New("serialization error")

	// ErrNotFound is returned by the key-value store for a missing key.
	ErrNotFound = errors.New("key not found")
)

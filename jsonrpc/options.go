package jsonrpc

import "log/slog"

// Options configures an Endpoint. Start from DefaultOptions; the zero value
// disables most features.
type Options struct {
	// SafeMode enables type-tagged params and results on the wire.
	SafeMode bool
	// WarnOnUnsafe logs a warning when a safe-mode endpoint is called by a
	// peer that does not advertise safe mode.
	WarnOnUnsafe bool

	EnableBatch bool
	// MaxBatchSize bounds batch length. 0 means unlimited.
	MaxBatchSize int
	// BatchConcurrency bounds how many batch elements run at once. Values
	// below 2 process elements one at a time.
	BatchConcurrency int

	EnableLogging bool
	// Logger receives endpoint events. Nil uses slog.Default().
	Logger *slog.Logger

	EnableMiddleware bool
	// EnableValidation rejects params that are not an object or an array.
	EnableValidation bool
	// SanitizeErrors replaces the message of unexpected handler failures with
	// "Internal error".
	SanitizeErrors bool

	EnableIntrospection bool
	// IntrospectionPrefix is the reserved namespace for built-in methods.
	IntrospectionPrefix string
}

// DefaultIntrospectionPrefix is the namespace used when none is configured.
const DefaultIntrospectionPrefix = "__rpc"

// DefaultMaxBatchSize is the batch limit applied by DefaultOptions.
const DefaultMaxBatchSize = 100

// DefaultOptions returns the standard endpoint configuration.
func DefaultOptions() Options {
	return Options{
		WarnOnUnsafe:        true,
		EnableBatch:         true,
		MaxBatchSize:        DefaultMaxBatchSize,
		EnableLogging:       true,
		EnableMiddleware:    true,
		EnableValidation:    true,
		SanitizeErrors:      true,
		IntrospectionPrefix: DefaultIntrospectionPrefix,
	}
}

func (o Options) logger() *slog.Logger {
	if !o.EnableLogging {
		return slog.New(slog.DiscardHandler)
	}
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) prefix() string {
	if o.IntrospectionPrefix == "" {
		return DefaultIntrospectionPrefix
	}
	return o.IntrospectionPrefix
}

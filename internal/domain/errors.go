package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when a websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidData is returned for items that violate the data stream
	// contract (negative ts_init, nil item). Fatal, never skipped or coerced.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidInstrument is returned when an instrument is not registered or malformed. Not retriable.
	ErrInvalidInstrument = errors.New("invalid instrument")

	// ErrOrderNotFound is returned when an order id is unknown to the cache or venue
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is returned when a client order id is reused
	ErrDuplicateOrder = errors.New("duplicate client order id")

	// ErrInvalidTransition is returned for an order event that would move the
	// state machine backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrInsufficientBalance is returned when an account cannot cover an order
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConfigNotFound is returned when the configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

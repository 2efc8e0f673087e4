package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// Gradient validation failures. Any of these rejects a worker's
	// whole report; nothing from that report is accumulated.
	ErrShapeMismatch   = errors.New("gradient shape mismatch")
	ErrIndexOutOfRange = errors.New("gradient index out of range")
	ErrUnknownVariable = errors.New("gradient key is not part of model")

	// ErrMissingEmbeddingKeys aborts an update cycle; accumulated
	// gradients are kept so the next quorum retries the update.
	ErrMissingEmbeddingKeys = errors.New("unknown embedding keys")

	ErrVersionNotAvailable = errors.New("model version not available yet")
	ErrModelNotInitialized = errors.New("model not initialized")
)

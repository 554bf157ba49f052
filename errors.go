package deker

import "errors"

// Sentinel errors, one per failure kind. Wrap with fmt.Errorf("...: %w", ErrX)
// or combine several with errors.Join when more than one kind applies.
var (
	ErrClient             = errors.New("deker: client error")
	ErrValidation         = errors.New("deker: validation error")
	ErrInvalidSchema      = errors.New("deker: invalid schema")
	ErrMetaData           = errors.New("deker: invalid metadata")
	ErrCollectionExists   = errors.New("deker: collection already exists")
	ErrCollectionNotFound = errors.New("deker: collection does not exist")
	ErrArray              = errors.New("deker: array error")
	ErrArrayType          = errors.New("deker: wrong array type for this operation")
	ErrFilter             = errors.New("deker: unsupported filter expression")
	ErrLocked             = errors.New("deker: resource is locked")
	ErrInstanceNotFound   = errors.New("deker: instance does not exist")
	ErrInvalidManagerCall = errors.New("deker: manager does not support this call")
	ErrSubset             = errors.New("deker: invalid subset")
	ErrVSubset            = errors.New("deker: invalid varray subset")
	ErrMemory             = errors.New("deker: insufficient memory")
	ErrIntegrity          = errors.New("deker: integrity check failed")
)

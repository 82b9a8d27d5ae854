package voxel

import "github.com/pkg/errors"

// The three failure kinds of the reconstruction core. None of them are
// transient; callers match them with errors.Is and propagate.
var (
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingCollaborator  = errors.New("missing collaborator")
)

// shapeErr wraps ErrShapeMismatch with a stack trace and a message.
func shapeErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrShapeMismatch, format, args...)
}

// configErr wraps ErrInvalidConfiguration with a stack trace and a message.
func configErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}

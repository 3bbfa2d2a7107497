package taskruntime

import (
	"errors"

	"github.com/ent0n29/cheerup/internal/dispatch"
)

var (
	ErrInvalidDuration  = errors.New("not a valid duration")
	ErrUnknownPersona   = errors.New("unknown persona")
	ErrInvalidAnswer    = errors.New("invalid outcome answer")
	ErrNoPendingAbandon = errors.New("no abandonment awaiting confirmation")

	// Collaborator failures. The lifecycle transition that triggered them
	// has already been committed when these are returned.
	ErrGeneration = dispatch.ErrGeneration
	ErrDelivery   = dispatch.ErrDelivery
)

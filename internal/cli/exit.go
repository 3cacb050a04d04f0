package cli

import (
	"context"
	"errors"

	"github.com/bqdrift/bqdrift/internal/cli/commands"
	"github.com/bqdrift/bqdrift/internal/warehouse"
)

// Exit codes, stable for CI use.
const (
	ExitOK           = 0
	ExitValidation   = 1
	ExitDrift        = 2
	ExitImmutability = 3
	ExitWarehouse    = 4
	ExitInterrupted  = 130
)

// ExitCode maps an error to the documented exit codes.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		validation   *commands.ValidationFailed
		drifted      *commands.DriftDetected
		immutability *commands.ImmutabilityViolated
		wh           *warehouse.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &immutability):
		return ExitImmutability
	case errors.As(err, &drifted):
		return ExitDrift
	case errors.As(err, &wh):
		return ExitWarehouse
	case errors.As(err, &validation):
		return ExitValidation
	default:
		return ExitValidation
	}
}

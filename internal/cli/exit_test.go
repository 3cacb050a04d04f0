package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bqdrift/bqdrift/internal/cli/commands"
	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"validation", &commands.ValidationFailed{Problems: []error{errors.New("bad")}}, ExitValidation},
		{"drift", &commands.DriftDetected{Count: 3}, ExitDrift},
		{"immutability", &commands.ImmutabilityViolated{Count: 1}, ExitImmutability},
		{"warehouse", &warehouse.Error{Kind: warehouse.KindJobFailure, Err: errors.New("boom")}, ExitWarehouse},
		{"wrapped warehouse", fmt.Errorf("sync: %w", &warehouse.Error{Kind: warehouse.KindTimeout, Err: errors.New("slow")}), ExitWarehouse},
		{"interrupt", context.Canceled, ExitInterrupted},
		{"generic", errors.New("anything else"), ExitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

package cmd

import (
	"errors"

	"github.com/resorch/resorch/internal/errs"
)

// exit codes per spec.md §6.1: 0 success, 2 user/operator error,
// 3 lifecycle violation, 4 I/O failure, 5 typed internal fault.
const (
	exitOK                 = 0
	exitOperatorError      = 2
	exitLifecycleViolation = 3
	exitIOFailure          = 4
	exitInternalFault      = 5
)

var operatorErrorCodes = map[errs.Code]bool{
	errs.InvalidArgs:            true,
	errs.InvalidState:           true,
	errs.InvalidJSON:            true,
	errs.SchemaValidationFailed: true,
	errs.NotFound:               true,
	errs.AlreadyExistsConflict:  true,
	errs.PathTraversal:          true,
	errs.Disabled:               true,
	errs.RevisionMismatch:       true,
}

var ioFailureCodes = map[errs.Code]bool{
	errs.WriteFailed:       true,
	errs.ReadFailed:        true,
	errs.LockReadFailed:    true,
	errs.LockWriteFailed:   true,
	errs.LockReleaseFailed: true,
}

var lifecycleViolationCodes = map[errs.Code]bool{
	errs.LifecycleRuleViolation:  true,
	errs.RequestedNextNotAllowed: true,
	errs.GateBlocked:             true,
	errs.MissingArtifact:         true,
	errs.WaveCapExceeded:         true,
	errs.ReviewCapExceeded:       true,
	errs.WatchdogTimeout:         true,
	errs.TickCapExceeded:         true,
	errs.StageMismatch:           true,
	errs.Wave1PlanStale:          true,
	errs.RunAgentRequired:        true,
	errs.RunAgentFailed:          true,
	errs.RetryRequired:           true,
	errs.RetryCapExhausted:       true,
	errs.UnknownGateID:           true,
	errs.PreviousTickIncomplete:  true,
	errs.Paused:                  true,
	errs.Cancelled:               true,
	errs.PerspectiveNotFound:     true,
	errs.DuplicatePerspectiveID:  true,
	errs.UnknownCID:              true,
	errs.BundleInvalid:           true,
	errs.MissingRequiredSection:  true,
	errs.TooManyWords:            true,
	errs.MalformedSources:        true,
	errs.TooManySources:          true,
	errs.InvalidToolUsage:        true,
	errs.ToolBudgetExceeded:      true,
	errs.InvalidToolBudget:       true,
}

// ExitCodeFor classifies err into one of the five exit codes the CLI
// contract names (0, 2, 3, 4, 5). A nil err is exit 0; an err that isn't an *errs.Error
// at all (a cobra usage error, for instance) is an operator error.
func ExitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		return exitOperatorError
	}
	switch {
	case operatorErrorCodes[e.Code]:
		return exitOperatorError
	case lifecycleViolationCodes[e.Code]:
		return exitLifecycleViolation
	case ioFailureCodes[e.Code]:
		return exitIOFailure
	default:
		return exitInternalFault
	}
}

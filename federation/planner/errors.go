package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvablePlan is returned when no complete plan exists for a validated operation.
	ErrUnresolvablePlan = errors.New("unable to build a query plan")
	// ErrDeferInSubscription is returned for @defer inside a subscription.
	ErrDeferInSubscription = errors.New("@defer is not supported on subscriptions")
	// ErrFieldResolution is returned when a selection references an unknown field.
	ErrFieldResolution = errors.New("field cannot be resolved")
	// ErrOperationNotFound is returned when the requested operation is not in the document.
	ErrOperationNotFound = errors.New("operation not found")
	// ErrInaccessibleField is returned when an operation selects an @inaccessible field.
	ErrInaccessibleField = errors.New("field is not accessible")
	// ErrInvalidOperation is returned by Plan when the operation text does not parse.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrPlanningAborted is returned when the context of a planning call is done before a plan is chosen.
	ErrPlanningAborted = errors.New("query planning aborted")
)

// FieldResolutionError reports a field that does not exist on its parent type.
type FieldResolutionError struct {
	TypeName  string
	FieldName string
}

func (e *FieldResolutionError) Error() string {
	return fmt.Sprintf("%s: %s.%s", ErrFieldResolution, e.TypeName, e.FieldName)
}

func (e *FieldResolutionError) Unwrap() error {
	return ErrFieldResolution
}

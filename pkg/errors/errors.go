package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Component identifies the part of the APM pipeline that raised an error.
type Component string

const (
	ComponentProfiling  Component = "profiling"
	ComponentBaseline   Component = "baseline"
	ComponentSLA        Component = "sla"
	ComponentBottleneck Component = "bottleneck"
	ComponentTrend      Component = "trend"
	ComponentRegression Component = "regression"
	ComponentManager    Component = "manager"
	ComponentStore      Component = "store"
	ComponentConfig     Component = "config"
)

// Condition sentinels. Component errors wrap one of these when the failure
// has a well known cause, so callers can branch with errors.Is.
var (
	// ErrInsufficientData is returned whenever an analysis needs more samples
	// than are currently available.
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotRunning       = errors.New("not running")
	ErrBusy             = errors.New("resource busy")
)

// Component sentinels. errors.Is(err, ErrBaseline) reports whether err was
// raised by the baseline component.
var (
	ErrProfiling  = &APMError{Component: ComponentProfiling}
	ErrBaseline   = &APMError{Component: ComponentBaseline}
	ErrSLA        = &APMError{Component: ComponentSLA}
	ErrBottleneck = &APMError{Component: ComponentBottleneck}
	ErrTrend      = &APMError{Component: ComponentTrend}
	ErrRegression = &APMError{Component: ComponentRegression}
	ErrManager    = &APMError{Component: ComponentManager}
	ErrStore      = &APMError{Component: ComponentStore}
	ErrConfig     = &APMError{Component: ComponentConfig}
)

// APMError is the common error type for the APM pipeline.
type APMError struct {
	Component Component              `json:"component"`
	Operation string                 `json:"operation"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
}

// Error implements the error interface
func (e *APMError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Component, e.Operation, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap implements the error unwrapping interface
func (e *APMError) Unwrap() error {
	return e.Cause
}

// Is matches component sentinels (an APMError with only Component set) by
// component, and fully populated APMErrors by component and operation.
func (e *APMError) Is(target error) bool {
	if target == nil {
		return false
	}

	ae, ok := target.(*APMError)
	if !ok || ae.Component != e.Component {
		return false
	}
	return ae.Operation == "" || ae.Operation == e.Operation
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *APMError) WithContext(key string, value interface{}) *APMError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an APMError for the given component and operation.
func New(component Component, operation, message string, cause error) *APMError {
	return &APMError{
		Component: component,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// Newf is New with a formatted message.
func Newf(component Component, operation string, cause error, format string, args ...interface{}) *APMError {
	return New(component, operation, fmt.Sprintf(format, args...), cause)
}

// Wrap returns err unchanged when it already is an APMError, otherwise it
// wraps it as a failure of the given component.
func Wrap(component Component, operation string, err error) error {
	if err == nil {
		return nil
	}
	var ae *APMError
	if errors.As(err, &ae) {
		return err
	}
	return New(component, operation, "operation failed", err)
}

// Component specific constructors.

func BaselineError(operation, message string, cause error) *APMError {
	return New(ComponentBaseline, operation, message, cause)
}

func BottleneckDetectionError(operation, message string, cause error) *APMError {
	return New(ComponentBottleneck, operation, message, cause)
}

func SLAViolationError(operation, message string, cause error) *APMError {
	return New(ComponentSLA, operation, message, cause)
}

func TrendAnalysisError(operation, message string, cause error) *APMError {
	return New(ComponentTrend, operation, message, cause)
}

func RegressionDetectionError(operation, message string, cause error) *APMError {
	return New(ComponentRegression, operation, message, cause)
}

func ProfilingError(operation, message string, cause error) *APMError {
	return New(ComponentProfiling, operation, message, cause)
}

// InsufficientData builds a component error wrapping ErrInsufficientData.
func InsufficientData(component Component, operation string, have, need int) *APMError {
	return New(component, operation, "not enough samples", ErrInsufficientData).
		WithContext("have", have).
		WithContext("need", need)
}

// IsInsufficientData reports whether err signals that more samples are needed.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ComponentOf returns the component of the innermost APMError in err's
// chain, the component where the failure originated.
func ComponentOf(err error) (Component, bool) {
	switch e := err.(type) {
	case nil:
		return "", false
	case *APMError:
		if c, ok := ComponentOf(e.Cause); ok {
			return c, true
		}
		return e.Component, true
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if c, ok := ComponentOf(inner); ok {
				return c, true
			}
		}
		return "", false
	default:
		return ComponentOf(errors.Unwrap(err))
	}
}

// Is is re-exported so callers importing this package under the name
// "errors" do not need the standard library package as well.
func Is(err, target error) bool { return errors.Is(err, target) }

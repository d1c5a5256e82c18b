package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPMErrorMatchesComponentSentinel(t *testing.T) {
	err := BaselineError("establish_baseline", "cannot establish", ErrInsufficientData)

	assert.True(t, stderrors.Is(err, ErrBaseline))
	assert.False(t, stderrors.Is(err, ErrSLA))
	assert.True(t, stderrors.Is(err, ErrInsufficientData))
	assert.True(t, IsInsufficientData(fmt.Errorf("outer: %w", err)))
}

func TestAPMErrorMatchesOperation(t *testing.T) {
	err := SLAViolationError("evaluate_sla", "unknown sla", ErrNotFound)

	assert.True(t, stderrors.Is(err, &APMError{Component: ComponentSLA, Operation: "evaluate_sla"}))
	assert.False(t, stderrors.Is(err, &APMError{Component: ComponentSLA, Operation: "add_sla"}))
	assert.True(t, IsNotFound(err))
}

func TestAPMErrorString(t *testing.T) {
	err := InsufficientData(ComponentTrend, "analyze_trend", 3, 20)
	assert.Equal(t, "[trend:analyze_trend] not enough samples (have=3, need=20): insufficient data", err.Error())
}

func TestWrapKeepsExistingAPMError(t *testing.T) {
	inner := RegressionDetectionError("detect_regression", "bad", nil)
	assert.Same(t, inner, Wrap(ComponentManager, "detect_regressions", inner))

	plain := stderrors.New("boom")
	wrapped := Wrap(ComponentManager, "record", plain)
	assert.True(t, stderrors.Is(wrapped, ErrManager))
	assert.True(t, stderrors.Is(wrapped, plain))

	c, ok := ComponentOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ComponentManager, c)

	assert.Nil(t, Wrap(ComponentManager, "noop", nil))
}

func TestComponentOfReportsOrigin(t *testing.T) {
	origin := BottleneckDetectionError("resolve_bottleneck", "no active bottleneck", ErrNotFound)
	outer := New(ComponentManager, "resolve_bottleneck", "operation failed", fmt.Errorf("resolving: %w", origin))

	c, ok := ComponentOf(outer)
	assert.True(t, ok)
	assert.Equal(t, ComponentBottleneck, c)

	joined := New(ComponentManager, "record_metric", "operation failed",
		stderrors.Join(stderrors.New("plain"), TrendAnalysisError("add", "bad", nil)))
	c, ok = ComponentOf(joined)
	assert.True(t, ok)
	assert.Equal(t, ComponentTrend, c)

	_, ok = ComponentOf(stderrors.New("boom"))
	assert.False(t, ok)
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(ComponentStore, "new", ErrInvalidArgument, "unknown store backend %q", "etcd")
	assert.Equal(t, `unknown store backend "etcd"`, err.Message)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrStore)
}

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/expharness/internal/logging"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "expharness"}, logging.Test(t))
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p, err := Init(context.Background(), Config{
		ServiceName:  "expharness",
		OTLPEndpoint: "127.0.0.1:4318",
		Insecure:     true,
	}, nil)
	require.NoError(t, err)

	_, span := Default().Start(context.Background(), "recorded")
	assert.True(t, span.IsRecording(), "Init installs the provider globally")
	span.End()

	// no collector is listening; a cancelled context keeps the flush from blocking
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	AddEvent(ctx, "step")
	SetError(ctx, errors.New("failed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "failed", ended[0].Status().Description)

	var names []string
	for _, e := range ended[0].Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"step", "exception"}, names)

	ctx, span = tp.Tracer("test").Start(context.Background(), "ok")
	SetStatus(ctx, codes.Ok, "")
	span.End()
	assert.Equal(t, codes.Ok, recorder.Ended()[1].Status().Code)
}

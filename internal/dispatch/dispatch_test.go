package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/simchat/internal/dispatch"
	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/pkg/provider/reply"
	"github.com/MrWong99/simchat/pkg/provider/reply/mock"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// requestCount returns the simchat.reply.requests value for status.
func requestCount(t *testing.T, reader *sdkmetric.ManualReader, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "simchat.reply.requests" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("status")); ok && v.AsString() == status {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func newDispatcher(t *testing.T, p reply.Provider, opts ...dispatch.Option) (*dispatch.Dispatcher, *sdkmetric.ManualReader) {
	t.Helper()
	m, reader := newTestMetrics(t)
	return dispatch.New(p, append([]dispatch.Option{dispatch.WithMetrics(m)}, opts...)...), reader
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Response: &reply.Response{Text: "Olá! Tudo bem?"}}
	d, reader := newDispatcher(t, p)

	res, err := d.Dispatch(context.Background(), "  oi  ")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "Olá! Tudo bem?" || res.Fallback {
		t.Errorf("result = %+v", res)
	}
	req, ok := p.LastRequest()
	if !ok || req.Message != "oi" {
		t.Errorf("request = %+v, want trimmed message", req)
	}
	if p.CallCount() != 1 {
		t.Errorf("calls = %d, want exactly 1", p.CallCount())
	}
	if got := requestCount(t, reader, observe.StatusOK); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
}

func TestDispatch_BlankInput(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d, _ := newDispatcher(t, p)

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := d.Dispatch(context.Background(), in); !errors.Is(err, dispatch.ErrBlankInput) {
			t.Errorf("Dispatch(%q) err = %v, want ErrBlankInput", in, err)
		}
	}
	if p.CallCount() != 0 {
		t.Errorf("blank input sent %d requests", p.CallCount())
	}
}

func TestDispatch_Acknowledgement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *reply.Response
		opts []dispatch.Option
		want string
	}{
		{name: "empty text", resp: &reply.Response{}, want: dispatch.DefaultAcknowledgement},
		{name: "whitespace text", resp: &reply.Response{Text: "  \n"}, want: dispatch.DefaultAcknowledgement},
		{name: "nil response", resp: nil, want: dispatch.DefaultAcknowledgement},
		{
			name: "custom acknowledgement",
			resp: &reply.Response{},
			opts: []dispatch.Option{dispatch.WithAcknowledgement("Got it!")},
			want: "Got it!",
		},
		{
			name: "blank custom acknowledgement ignored",
			resp: &reply.Response{},
			opts: []dispatch.Option{dispatch.WithAcknowledgement("  ")},
			want: dispatch.DefaultAcknowledgement,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, reader := newDispatcher(t, &mock.Provider{Response: tc.resp}, tc.opts...)
			res, err := d.Dispatch(context.Background(), "oi")
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.Text != tc.want || !res.Fallback {
				t.Errorf("result = %+v, want fallback %q", res, tc.want)
			}
			if got := requestCount(t, reader, observe.StatusFallback); got != 1 {
				t.Errorf("fallback requests = %d, want 1", got)
			}
		})
	}
}

func TestDispatch_SetAcknowledgement(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, &mock.Provider{})
	d.SetAcknowledgement("Thanks!")
	d.SetAcknowledgement("")

	res, err := d.Dispatch(context.Background(), "oi")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "Thanks!" {
		t.Errorf("Text = %q, want Thanks!", res.Text)
	}
}

func TestDispatch_PlainErrorIsWrapped(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	d, reader := newDispatcher(t, &mock.Provider{ProviderName: "webhook", Err: cause})

	_, err := d.Dispatch(context.Background(), "oi")
	var te *reply.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
	if te.Provider != "webhook" || te.Op != "send" {
		t.Errorf("TransportError = %+v", te)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
	if got := requestCount(t, reader, observe.StatusError); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestDispatch_TransportErrorPreserved(t *testing.T) {
	t.Parallel()

	orig := &reply.TransportError{Provider: "webhook", Op: "status", Err: errors.New("unexpected status 502")}
	d, _ := newDispatcher(t, &mock.Provider{Err: orig})

	_, err := d.Dispatch(context.Background(), "oi")
	var te *reply.TransportError
	if !errors.As(err, &te) || te != orig {
		t.Fatalf("err = %v, want the provider's TransportError", err)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	d, _ := newDispatcher(t, &mock.Provider{Block: block}, dispatch.WithTimeout(20*time.Millisecond))

	_, err := d.Dispatch(context.Background(), "oi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	var te *reply.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
}

func TestDispatch_NoTimeoutByDefault(t *testing.T) {
	t.Parallel()

	var hadDeadline bool
	p := &mock.Provider{
		SendFunc: func(ctx context.Context, _ reply.Request) (*reply.Response, error) {
			_, hadDeadline = ctx.Deadline()
			return &reply.Response{Text: "ok"}, nil
		},
	}
	d, _ := newDispatcher(t, p)
	if _, err := d.Dispatch(context.Background(), "oi"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if hadDeadline {
		t.Error("request context carried a deadline without WithTimeout")
	}
}

func TestDispatch_CreatesSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	d, _ := newDispatcher(t, &mock.Provider{Err: errors.New("boom")})
	_, _ = d.Dispatch(context.Background(), "oi")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "reply.dispatch" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if len(spans[0].Events) == 0 {
		t.Error("failed dispatch should record the error on the span")
	}
}

package observability

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MeterName is the instrumentation scope of the engine metrics.
const MeterName = "github.com/searchktools/fast-bench"

// ErrorKind classifies connection errors.
type ErrorKind uint8

// Error kinds
const (
	ErrorProtocol ErrorKind = iota
	ErrorPrematureClose
	ErrorWrite
	ErrorUpstream
	numErrorKinds
)

var errorKindNames = [numErrorKinds]string{
	ErrorProtocol:       "protocol",
	ErrorPrematureClose: "premature_close",
	ErrorWrite:          "write",
	ErrorUpstream:       "upstream",
}

func (k ErrorKind) String() string {
	if k >= numErrorKinds {
		return "unknown"
	}
	return errorKindNames[k]
}

// Metrics counts engine events with atomics on the hot path. The values
// are reported to OpenTelemetry by observable instruments at collection.
type Metrics struct {
	accepted atomic.Uint64
	active   atomic.Int64
	requests atomic.Uint64
	frames   atomic.Uint64
	errors   [numErrorKinds]atomic.Uint64

	bufferGets func() uint64
	reg        metric.Registration
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Accepted   uint64
	Active     int64
	Requests   uint64
	Frames     uint64
	Errors     map[string]uint64
	BufferGets uint64
}

// NewMetrics registers the engine instruments with mp. bufferGets, if not
// nil, reports the buffer pool acquisitions.
func NewMetrics(mp metric.MeterProvider, bufferGets func() uint64) (*Metrics, error) {
	m := &Metrics{bufferGets: bufferGets}
	meter := mp.Meter(MeterName)

	accepted, err := meter.Int64ObservableCounter("fastbench.connections.accepted",
		metric.WithDescription("Accepted connections"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64ObservableUpDownCounter("fastbench.connections.active",
		metric.WithDescription("Open connections"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64ObservableCounter("fastbench.requests",
		metric.WithDescription("Dispatched requests"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64ObservableCounter("fastbench.errors",
		metric.WithDescription("Connections ended by an error"))
	if err != nil {
		return nil, err
	}
	frames, err := meter.Int64ObservableCounter("fastbench.websocket.frames",
		metric.WithDescription("Received WebSocket frames"))
	if err != nil {
		return nil, err
	}
	gets, err := meter.Int64ObservableCounter("fastbench.pool.buffer.gets",
		metric.WithDescription("Output buffers taken from the pool"))
	if err != nil {
		return nil, err
	}

	kindAttrs := make([]metric.ObserveOption, numErrorKinds)
	for k := range kindAttrs {
		kindAttrs[k] = metric.WithAttributes(attribute.String("kind", ErrorKind(k).String()))
	}

	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(accepted, int64(m.accepted.Load()))
		o.ObserveInt64(active, m.active.Load())
		o.ObserveInt64(requests, int64(m.requests.Load()))
		o.ObserveInt64(frames, int64(m.frames.Load()))
		for k := range m.errors {
			o.ObserveInt64(errs, int64(m.errors[k].Load()), kindAttrs[k])
		}
		if m.bufferGets != nil {
			o.ObserveInt64(gets, int64(m.bufferGets()))
		}
		return nil
	}, accepted, active, requests, errs, frames, gets)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.accepted.Add(1)
	m.active.Add(1)
}

// ConnectionClosed records a closed connection that served requests.
func (m *Metrics) ConnectionClosed(requests uint64) {
	m.active.Add(-1)
	m.requests.Add(requests)
}

// Error records a connection error.
func (m *Metrics) Error(kind ErrorKind) {
	if kind < numErrorKinds {
		m.errors[kind].Add(1)
	}
}

// Frame records a received WebSocket frame.
func (m *Metrics) Frame() {
	m.frames.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Accepted: m.accepted.Load(),
		Active:   m.active.Load(),
		Requests: m.requests.Load(),
		Frames:   m.frames.Load(),
		Errors:   make(map[string]uint64, numErrorKinds),
	}
	for k := range m.errors {
		s.Errors[ErrorKind(k).String()] = m.errors[k].Load()
	}
	if m.bufferGets != nil {
		s.BufferGets = m.bufferGets()
	}
	return s
}

// Close unregisters the instruments callback.
func (m *Metrics) Close() error {
	return m.reg.Unregister()
}

// NewMeterProvider returns a provider exporting over OTLP/gRPC to endpoint
// every interval, or a noop provider when endpoint is empty. The returned
// function flushes and stops the exporter.
func NewMeterProvider(ctx context.Context, endpoint string, interval time.Duration) (metric.MeterProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	var opts []otlpmetricgrpc.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlpmetricgrpc.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "fastbench"))),
	)
	return mp, mp.Shutdown, nil
}

package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_Observed(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	var gets uint64 = 7
	m, err := NewMetrics(mp, func() uint64 { return gets })
	require.NoError(t, err)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed(3)
	m.Error(ErrorProtocol)
	m.Error(ErrorUpstream)
	m.Error(ErrorUpstream)
	m.Frame()

	data := collect(t, reader)

	sum := func(name string) int64 {
		s, ok := data[name].(metricdata.Sum[int64])
		require.True(t, ok, name)
		var total int64
		for _, dp := range s.DataPoints {
			total += dp.Value
		}
		return total
	}
	assert.Equal(t, int64(2), sum("fastbench.connections.accepted"))
	assert.Equal(t, int64(1), sum("fastbench.connections.active"))
	assert.Equal(t, int64(3), sum("fastbench.requests"))
	assert.Equal(t, int64(1), sum("fastbench.websocket.frames"))
	assert.Equal(t, int64(7), sum("fastbench.pool.buffer.gets"))

	errs := data["fastbench.errors"].(metricdata.Sum[int64])
	byKind := map[string]int64{}
	for _, dp := range errs.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		byKind[kind.AsString()] = dp.Value
	}
	assert.Equal(t, int64(1), byKind["protocol"])
	assert.Equal(t, int64(2), byKind["upstream"])
	assert.Zero(t, byKind["write"])

	assert.NoError(t, m.Close())
}

func TestMetrics_Snapshot(t *testing.T) {
	m, err := NewMetrics(sdkmetric.NewMeterProvider(), nil)
	require.NoError(t, err)

	m.ConnectionOpened()
	m.Error(ErrorPrematureClose)
	m.Error(ErrorKind(200))

	s := m.Snapshot()
	assert.Equal(t, uint64(1), s.Accepted)
	assert.Equal(t, int64(1), s.Active)
	assert.Equal(t, uint64(1), s.Errors["premature_close"])
	assert.Len(t, s.Errors, 4)
	assert.Equal(t, "unknown", ErrorKind(200).String())
}

func TestNewMeterProvider_NoEndpoint(t *testing.T) {
	mp, shutdown, err := NewMeterProvider(context.Background(), "", 0)
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, shutdown(context.Background()))

	_, err = NewMetrics(mp, nil)
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, false, "debug", LogFormatJSON)
	require.NoError(t, err)

	logger.WithField("conn", 3).Debug("closed")
	assert.Equal(t, "closed", gjson.Get(buf.String(), "msg").String())
	assert.Equal(t, int64(3), gjson.Get(buf.String(), "conn").Int())

	buf.Reset()
	logger, err = newLogger(&buf, false, "info", LogFormatText)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = newLogger(&buf, false, "loud", LogFormatText)
	assert.Error(t, err)
	_, err = newLogger(&buf, false, "info", "xml")
	assert.Error(t, err)
}

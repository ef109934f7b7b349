package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:100"`
	DeletedAt *time.Time
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&tracedRecord{}))
	return db
}

// installRecorder swaps the global tracer provider for one backed by a span
// recorder for the duration of the test.
func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false}, zap.NewNop())

	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartSpan(context.Background(), "cascade.soft_destroy", EntityAttrs("posts", "42")...)
	RecordError(span, nil)
	span.End()

	_, failed := StartSpan(context.Background(), "remotesync.create_remote")
	RecordError(failed, errors.New("card declined"))
	failed.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "cascade.soft_destroy", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	v, ok := attrValue(spans[0].Attributes(), "billsync.entity")
	require.True(t, ok)
	assert.Equal(t, "posts", v.AsString())
	assert.Equal(t, TracerName, spans[0].InstrumentationScope().Name)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "card declined", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m, err := NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.RemoteOperation(ctx, "customers", "create", OutcomeSuccess)
	m.RemoteOperation(ctx, "customers", "create", OutcomeSuccess)
	m.RemoteOperation(ctx, "customers", "delete", OutcomeError)
	m.CascadeRecords(ctx, "soft_destroy", 4)
	m.CascadeRecords(ctx, "soft_restore", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	points := map[string]int{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				sums[metric.Name] += dp.Value
				points[metric.Name]++
			}
		}
	}
	assert.Equal(t, int64(3), sums["billsync.remote.operations"])
	assert.Equal(t, 2, points["billsync.remote.operations"])
	assert.Equal(t, int64(4), sums["billsync.cascade.records"])
	assert.Equal(t, 1, points["billsync.cascade.records"])
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RemoteOperation(context.Background(), "customers", "create", OutcomeSuccess)
		m.CascadeRecords(context.Background(), "soft_destroy", 1)
	})
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	db := setupTestDB(t)

	err := RegisterDBTracing(db, DefaultDBTracingConfig(), zap.NewNop())

	assert.NoError(t, err)
}

func TestRegisterDBTracing_QuerySpansJoinParent(t *testing.T) {
	recorder := installRecorder(t)
	db := setupTestDB(t)

	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"
	require.NoError(t, RegisterDBTracing(db, cfg, zap.NewNop()))

	ctx, parent := StartSpan(context.Background(), "cascade.soft_destroy")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRecord{Name: "post"}).Error)
	parent.End()

	spans := recorder.Ended()
	require.GreaterOrEqual(t, len(spans), 2)

	traceID := parent.SpanContext().TraceID()
	children := 0
	for _, s := range spans {
		if s.Parent().SpanID() == parent.SpanContext().SpanID() {
			assert.Equal(t, traceID, s.SpanContext().TraceID())
			children++
		}
	}
	assert.Positive(t, children)
}

func TestSlowQueryCallback(t *testing.T) {
	recorder := installRecorder(t)
	db := setupTestDB(t)
	require.NoError(t, db.Create(&tracedRecord{Name: "post"}).Error)

	ctx, span := StartSpan(context.Background(), "slow")
	ctx = context.WithValue(ctx, queryStartTimeKey, time.Now().Add(-time.Second))

	var rec tracedRecord
	tx := db.WithContext(ctx).First(&rec)
	require.NoError(t, tx.Error)

	slowQueryCallback(time.Millisecond)(tx)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	v, ok := attrValue(spans[0].Attributes(), "db.slow_query")
	require.True(t, ok)
	assert.True(t, v.AsBool())
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "slow_query_warning", spans[0].Events()[0].Name)
}

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleStats struct {
	Server   string    `prometheus:"label"`
	Requests uint64    `prometheus:"name=sample_requests_total,help=Requests,type=counter"`
	Active   int       `prometheus:"name=sample_active,help=Active,type=gauge"`
	LastSeen time.Time `prometheus:"name=sample_last_seen_timestamp,help=Last seen,type=gauge"`
	Ignored  string
}

type otherStats struct {
	Name  string `prometheus:"label"`
	Count uint64 `prometheus:"name=other_count_total,help=Count,type=counter"`
}

func TestParsePrometheusTag(t *testing.T) {
	tests := []struct {
		tag     string
		name    string
		typ     prometheus.ValueType
		isLabel bool
		wantErr bool
	}{
		{tag: "label", isLabel: true},
		{tag: "name=a_total,help=A,type=counter", name: "a_total", typ: prometheus.CounterValue},
		{tag: "name=b,help=B,type=gauge", name: "b", typ: prometheus.GaugeValue},
		{tag: "name=c,help=C,type=summary", wantErr: true},
		{tag: "name=d,type=gauge", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			name, _, typ, isLabel, err := ParsePrometheusTag(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.isLabel, isLabel)
			if !tt.isLabel {
				assert.Equal(t, tt.typ, typ)
			}
		})
	}
}

func TestGenerateMetrics(t *testing.T) {
	metrics, labels, err := GenerateMetrics(reflect.TypeOf(sampleStats{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Server"}, labels)
	require.Len(t, metrics, 3)
	assert.Equal(t, "Requests", metrics[0].FieldName)
}

func TestGetFieldValue(t *testing.T) {
	v := reflect.ValueOf(struct {
		D time.Duration
		B bool
		T time.Time
		S string
	}{D: 90 * time.Second, B: true})

	d, err := GetFieldValue(v, "D")
	require.NoError(t, err)
	assert.Equal(t, 90.0, d)

	b, err := GetFieldValue(v, "B")
	require.NoError(t, err)
	assert.Equal(t, 1.0, b)

	ts, err := GetFieldValue(v, "T")
	require.NoError(t, err)
	assert.Zero(t, ts)

	_, err = GetFieldValue(v, "S")
	assert.Error(t, err)

	_, err = GetFieldValue(v, "Missing")
	assert.Error(t, err)
}

func TestRegistryCollector(t *testing.T) {
	h, err := NewStructHandler[sampleStats]("sample", Deref(func() []*sampleStats {
		return []*sampleStats{
			{Server: "10.0.0.1", Requests: 3, Active: 1},
			{Server: "10.0.0.2", Requests: 5},
		}
	}), nil, slog.Default())
	require.NoError(t, err)

	r := NewRegistry()
	r.Add(h)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(r.Collector(slog.Default())))
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "sample_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"10.0.0.1": 3, "10.0.0.2": 5}, values)
}

func TestCollectorSurvivesSourceError(t *testing.T) {
	failing, err := NewStructHandler[sampleStats]("failing", func(context.Context) ([]sampleStats, error) {
		return nil, errors.New("boom")
	}, nil, slog.Default())
	require.NoError(t, err)

	ok, err := NewStructHandler[otherStats]("ok", Single(func() otherStats {
		return otherStats{Name: "a", Count: 1}
	}), prometheus.Labels{"instance": "x"}, slog.Default())
	require.NoError(t, err)

	r := NewRegistry()
	r.Add(failing)
	r.Add(ok)
	assert.Len(t, r.Handlers(), 2)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(r.Collector(slog.Default())))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "other_count_total", families[0].GetName())
}

func TestNewStructHandlerRejectsNonStruct(t *testing.T) {
	_, err := NewStructHandler[int]("bad", Single(func() int { return 1 }), nil, nil)
	assert.Error(t, err)
}

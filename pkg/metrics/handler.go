package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricHandler interface {
	Name() string
	Describe(ch chan<- *prometheus.Desc)
	Collect(ctx context.Context, ch chan<- prometheus.Metric) error
}

// Source returns the current values of a stats struct. Components expose
// their Snapshot methods through it.
type Source[T any] func(ctx context.Context) ([]T, error)

// StructHandler turns every tagged field of T into a const metric, labelled
// by the fields tagged `prometheus:"label"`.
type StructHandler[T any] struct {
	name        string
	source      Source[T]
	logger      *slog.Logger
	metrics     []FieldMetric
	labelFields []string
	descs       map[string]*prometheus.Desc
}

func NewStructHandler[T any](name string, source Source[T], constLabels prometheus.Labels, logger *slog.Logger) (*StructHandler[T], error) {
	var zero T
	structType := reflect.TypeOf(zero)
	if structType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("metric handler %s: %s is not a struct", name, structType)
	}

	metrics, labelFields, err := GenerateMetrics(structType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metrics: %w", err)
	}

	descs := make(map[string]*prometheus.Desc, len(metrics))
	for _, m := range metrics {
		descs[m.MetricName] = prometheus.NewDesc(m.MetricName, m.Help, labelFields, constLabels)
	}

	return &StructHandler[T]{
		name:        name,
		source:      source,
		logger:      logger,
		metrics:     metrics,
		labelFields: labelFields,
		descs:       descs,
	}, nil
}

func (h *StructHandler[T]) Name() string { return h.name }

func (h *StructHandler[T]) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range h.descs {
		ch <- desc
	}
}

func (h *StructHandler[T]) Collect(ctx context.Context, ch chan<- prometheus.Metric) error {
	items, err := h.source(ctx)
	if err != nil {
		return err
	}

	for i := range items {
		v := reflect.ValueOf(items[i])
		labelValues := GetLabelValues(v, h.labelFields)

		for _, m := range h.metrics {
			value, err := GetFieldValue(v, m.FieldName)
			if err != nil {
				if h.logger != nil {
					h.logger.Warn("Failed to get field value", "field", m.FieldName, "error", err)
				}
				continue
			}
			ch <- prometheus.MustNewConstMetric(h.descs[m.MetricName], m.Type, value, labelValues...)
		}
	}

	return nil
}

// Single adapts a function returning one stats value to a Source.
func Single[T any](fn func() T) Source[T] {
	return func(context.Context) ([]T, error) {
		return []T{fn()}, nil
	}
}

func List[T any](fn func() []T) Source[T] {
	return func(context.Context) ([]T, error) {
		return fn(), nil
	}
}

// Deref adapts a function returning pointers, like the Snapshot methods of
// the stats types, to a Source.
func Deref[T any](fn func() []*T) Source[T] {
	return func(context.Context) ([]T, error) {
		ptrs := fn()
		out := make([]T, 0, len(ptrs))
		for _, p := range ptrs {
			if p != nil {
				out = append(out, *p)
			}
		}
		return out, nil
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// HistoryMeasurement is the InfluxDB measurement for property updates.
const HistoryMeasurement = "wkpf_property"

// PointWriter is the subset of *influxdb.Client used by the recorder.
// Writes are asynchronous and batched by the client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// HistoryRecorder writes every accepted update as an InfluxDB point.
//
// Tags: node, object, property, type. Scalars are stored in the "value"
// field (booleans as bool, integers as int64); lists store their JSON
// encoding in "value" and their element count in "length".
type HistoryRecorder struct {
	writer PointWriter
}

// NewHistoryRecorder creates a recorder.
func NewHistoryRecorder(w PointWriter) (*HistoryRecorder, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: point writer is required", ErrMissingDependency)
	}
	return &HistoryRecorder{writer: w}, nil
}

// Name implements Sink.
func (r *HistoryRecorder) Name() string { return "influxdb" }

// Forward implements Sink.
func (r *HistoryRecorder) Forward(_ context.Context, u gateway.Update) error {
	fields, err := historyFields(u.Value)
	if err != nil {
		return err
	}

	tags := map[string]string{
		"node":     strconv.Itoa(int(u.Node)),
		"object":   strconv.Itoa(int(u.Object)),
		"property": strconv.Itoa(int(u.Property)),
		"type":     u.Type.String(),
	}
	r.writer.WritePointWithTime(HistoryMeasurement, tags, fields, u.Received)
	return nil
}

func historyFields(v any) (map[string]any, error) {
	switch x := v.(type) {
	case bool:
		return map[string]any{"value": x}, nil
	case uint8:
		return map[string]any{"value": int64(x)}, nil
	case int16:
		return map[string]any{"value": int64(x)}, nil
	case int32:
		return map[string]any{"value": int64(x)}, nil
	case uint16:
		return map[string]any{"value": int64(x)}, nil
	case []uint8:
		return listFields(wkpf.JSONValue(x), len(x))
	case []int16:
		return listFields(x, len(x))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func listFields(v any, n int) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	return map[string]any{"value": string(data), "length": int64(n)}, nil
}

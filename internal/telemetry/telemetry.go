// Package telemetry holds the OpenTelemetry instruments recorded by the scheduler.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/fentz26/flightops"

// Instruments are the scheduler's counters and histogram.
type Instruments struct {
	Reservations      metric.Int64Counter
	DispatchCompleted metric.Int64Counter
	DispatchFailed    metric.Int64Counter
	DispatchDuration  metric.Float64Histogram
}

// NewInstruments registers the instruments on the global meter provider.
// Without an installed provider they are no-ops.
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsFrom(otel.GetMeterProvider())
}

// NewInstrumentsFrom registers the instruments on mp.
func NewInstrumentsFrom(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(meterName)

	var (
		ins Instruments
		err error
	)
	if ins.Reservations, err = meter.Int64Counter("flightops.reservations",
		metric.WithDescription("Plans reserved onto a worker")); err != nil {
		return nil, err
	}
	if ins.DispatchCompleted, err = meter.Int64Counter("flightops.dispatch.completed",
		metric.WithDescription("Dispatches that produced a result")); err != nil {
		return nil, err
	}
	if ins.DispatchFailed, err = meter.Int64Counter("flightops.dispatch.failed",
		metric.WithDescription("Dispatches that ended in error")); err != nil {
		return nil, err
	}
	if ins.DispatchDuration, err = meter.Float64Histogram("flightops.dispatch.duration",
		metric.WithDescription("Dispatch round trip"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &ins, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	ins, _ := NewInstrumentsFrom(noop.NewMeterProvider())
	return ins
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dbgmux/pkg/logger"
)

const metricExportInterval = 1 * time.Minute

type TelemetrySystem struct {
	MeterProvider *sdkmetric.MeterProvider
}

var (
	telemetrySystem     TelemetrySystem
	telemetrySystemOnce sync.Once
)

// GetTelemetrySystem returns the process-wide telemetry system, creating it on first use.
func GetTelemetrySystem() TelemetrySystem {
	telemetrySystemOnce.Do(func() {
		telemetrySystem = NewTelemetrySystem()
	})
	return telemetrySystem
}

// NewTelemetrySystem creates a meter provider that exports to stdout when diagnostics logging is at debug level.
// Otherwise the provider has no reader and recorded measurements are dropped.
func NewTelemetrySystem() TelemetrySystem {
	var opts []sdkmetric.Option

	if logLevel, err := logger.GetDiagnosticsLogLevel(); err == nil && logLevel <= zapcore.DebugLevel {
		if metricExp, expErr := stdoutmetric.New(); expErr == nil {
			opts = append(opts, sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(metricExportInterval)),
			))
		}
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return TelemetrySystem{
		MeterProvider: mp,
	}
}

func (ts TelemetrySystem) Shutdown(ctx context.Context) error {
	return ts.MeterProvider.Shutdown(ctx)
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/microsoft/dbgmux/internal/telemetry"
)

const meterName = "dbgmux-messenger"

type messengerMetrics struct {
	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	framesDropped  metric.Int64Counter
	sendFailed     metric.Int64Counter
	pendingReplies metric.Int64UpDownCounter
	liveChannels   metric.Int64UpDownCounter
	attrs          metric.MeasurementOption
}

func newMessengerMetrics(mp metric.MeterProvider, messengerName string) *messengerMetrics {
	if mp == nil {
		mp = telemetry.GetTelemetrySystem().MeterProvider
	}
	meter := mp.Meter(meterName)

	return &messengerMetrics{
		framesSent:     telemetry.NewInt64Counter(meter, "frames_sent", "Number of frames written to the transport"),
		framesReceived: telemetry.NewInt64Counter(meter, "frames_received", "Number of frames read from the transport"),
		framesDropped:  telemetry.NewInt64Counter(meter, "frames_dropped", "Number of received frames that had no recipient"),
		sendFailed:     telemetry.NewInt64Counter(meter, "send_failed", "Number of frames that could not be written to the transport"),
		pendingReplies: telemetry.NewInt64UpDownCounter(meter, "pending_replies", "Number of callers waiting for a reply"),
		liveChannels:   telemetry.NewInt64UpDownCounter(meter, "live_channels", "Number of live channels"),
		attrs:          metric.WithAttributes(attribute.String("messenger", messengerName)),
	}
}

// All methods tolerate a nil receiver so that registries and tables can be used without metrics.

func (mm *messengerMetrics) frameSent() {
	if mm != nil {
		mm.framesSent.Add(context.Background(), 1, mm.attrs)
	}
}

func (mm *messengerMetrics) frameReceived() {
	if mm != nil {
		mm.framesReceived.Add(context.Background(), 1, mm.attrs)
	}
}

func (mm *messengerMetrics) frameDropped() {
	mm.framesDroppedBy(1)
}

func (mm *messengerMetrics) framesDroppedBy(count int) {
	if mm != nil && count > 0 {
		mm.framesDropped.Add(context.Background(), int64(count), mm.attrs)
	}
}

func (mm *messengerMetrics) sendFailure() {
	if mm != nil {
		mm.sendFailed.Add(context.Background(), 1, mm.attrs)
	}
}

func (mm *messengerMetrics) pendingRepliesChanged(delta int64) {
	if mm != nil && delta != 0 {
		mm.pendingReplies.Add(context.Background(), delta, mm.attrs)
	}
}

func (mm *messengerMetrics) liveChannelsChanged(delta int64) {
	if mm != nil && delta != 0 {
		mm.liveChannels.Add(context.Background(), delta, mm.attrs)
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// process wide client metrics, exposed with metrics.WritePrometheus
var (
	asksTotal       = metrics.NewCounter(`dlink_client_asks_total`)
	askDuration     = metrics.NewHistogram(`dlink_client_ask_duration_seconds`)
	notifiesTotal   = metrics.NewCounter(`dlink_client_notifies_total`)
	eventsReceived  = metrics.NewCounter(`dlink_client_events_received_total`)
	eventsDropped   = metrics.NewCounter(`dlink_client_events_dropped_total`)
	connsOpened     = metrics.NewCounter(`dlink_client_connections_opened_total`)
	connsClosed     = metrics.NewCounter(`dlink_client_connections_closed_total`)
	checkoutsIdle   = metrics.NewCounter(`dlink_pool_checkouts_total{source="idle"}`)
	checkoutsNew    = metrics.NewCounter(`dlink_pool_checkouts_total{source="new"}`)
	connsReaped     = metrics.NewCounter(`dlink_pool_connections_reaped_total`)
	connsDiscarded  = metrics.NewCounter(`dlink_pool_connections_discarded_total`)
	eventReconnects = metrics.NewCounter(`dlink_pool_event_reconnects_total`)
)

// observeAsk records the outcome of one ask
func observeAsk(start time.Time, err error) {
	asksTotal.Inc()
	askDuration.Update(time.Since(start).Seconds())
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`dlink_client_ask_errors_total{kind=%q}`, errorKind(err))).Inc()
	}
}

// errorKind classifies an ask error for metrics
func errorKind(err error) string {
	var remote *common.RemoteError
	switch {
	case errors.As(err, &remote):
		return "remote"
	case errors.Is(err, common.ErrTimeout):
		return "timeout"
	case errors.Is(err, common.ErrProtocolViolation):
		return "protocol"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, common.ErrPoolClosed):
		return "pool_closed"
	case errors.Is(err, common.ErrConnectionClosed):
		return "closed"
	default:
		return "other"
	}
}

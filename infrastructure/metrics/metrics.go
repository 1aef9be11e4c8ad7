// Package metrics records per-request usage: in-process Prometheus counters
// plus persisted per-tenant aggregates incremented atomically.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/pkg/logger"
)

// MetricSystemID is the fixed document id accumulating global totals.
const MetricSystemID = "metric-system"

// Type classifies a completed request.
type Type string

const (
	TypePassthrough Type = "passthrough"
	TypeUnified     Type = "unified"
	TypeRateLimited Type = "rateLimited"
)

// Metric is one completed request's usage record.
type Metric struct {
	Type     Type
	ClientID string
	Platform string
	Action   string
	Date     time.Time
}

// Unified builds the metric for a unified dispatch.
func Unified(clientID, platform, action string) Metric {
	return Metric{Type: TypeUnified, ClientID: clientID, Platform: platform, Action: action, Date: time.Now().UTC()}
}

// Passthrough builds the metric for a passthrough dispatch.
func Passthrough(clientID, platform string) Metric {
	return Metric{Type: TypePassthrough, ClientID: clientID, Platform: platform, Date: time.Now().UTC()}
}

// RateLimited builds the metric for a request rejected by admission.
func RateLimited(clientID, platform string) Metric {
	return Metric{Type: TypeRateLimited, ClientID: clientID, Platform: platform, Date: time.Now().UTC()}
}

// incDoc renders the $inc counter keys for one metric:
// {type}.{total|platforms.{platform}.{total|daily.{day}|monthly.{month}}}.
func (m Metric) incDoc() bson.M {
	day := m.Date.Format("2006-01-02")
	month := m.Date.Format("2006-01")
	platform := fmt.Sprintf("%s.platforms.%s", m.Type, m.Platform)
	return bson.M{
		string(m.Type) + ".total":      1,
		platform + ".total":            1,
		platform + ".daily." + day:     1,
		platform + ".monthly." + month: 1,
	}
}

// AggregateStore is the slice of the document store the emitter writes to.
type AggregateStore interface {
	UpsertOne(ctx context.Context, filter bson.M, update bson.M) error
}

// Emitter aggregates metrics off the request path through a bounded channel.
// Shipping to an external sink is best-effort: a full channel drops the
// metric rather than stalling the caller.
type Emitter struct {
	ch    chan Metric
	store AggregateStore
	log   *logger.Logger

	requestsTotal *prometheus.CounterVec
}

// NewEmitter builds an emitter with the given buffer size and registers its
// collectors.
func NewEmitter(store AggregateStore, log *logger.Logger, buffer int, registerer prometheus.Registerer) *Emitter {
	if buffer <= 0 {
		buffer = 1024
	}
	e := &Emitter{
		ch:    make(chan Metric, buffer),
		store: store,
		log:   log,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integration_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"type", "platform"},
		),
	}
	if registerer != nil {
		registerer.MustRegister(e.requestsTotal)
	}
	return e
}

// Record enqueues a metric; never blocks the request path.
func (e *Emitter) Record(m Metric) {
	e.requestsTotal.WithLabelValues(string(m.Type), m.Platform).Inc()
	select {
	case e.ch <- m:
	default:
		e.log.WithService().Warn("metrics channel full, dropping metric")
	}
}

// Run drains the channel until the context is cancelled, flushing each
// metric into the per-tenant and global aggregates.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-e.ch:
			e.flush(ctx, m)
		}
	}
}

func (e *Emitter) flush(ctx context.Context, m Metric) {
	inc := bson.M{"$inc": m.incDoc()}
	if err := e.store.UpsertOne(ctx, bson.M{"_id": m.ClientID}, inc); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("failed to persist tenant metric")
	}
	if err := e.store.UpsertOne(ctx, bson.M{"_id": MetricSystemID}, inc); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("failed to persist system metric")
	}
}

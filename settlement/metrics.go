package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/homechain/escrowhub/common"
	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedClient records call counts, outcomes and latency of every
// settlement network call.
type InstrumentedClient struct {
	next     Client
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewInstrumentedClient(next Client, reg prometheus.Registerer) *InstrumentedClient {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowhub",
		Subsystem: "settlement",
		Name:      "calls_total",
		Help:      "Settlement network calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrowhub",
		Subsystem: "settlement",
		Name:      "call_duration_seconds",
		Help:      "Settlement network call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	if reg != nil {
		reg.MustRegister(calls, duration)
	}
	return &InstrumentedClient{next: next, calls: calls, duration: duration}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrNetworkTimeout):
		return "timeout"
	case errors.Is(err, common.ErrNetworkUnavailable):
		return "unavailable"
	case errors.Is(err, common.ErrRemoteRejected):
		return "rejected"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (c *InstrumentedClient) observe(op string, start time.Time, err error) {
	c.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.calls.WithLabelValues(op, outcome(err)).Inc()
}

func (c *InstrumentedClient) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (resp *CreateEscrowResponse, err error) {
	defer func(start time.Time) { c.observe(OpCreateEscrow, start, err) }(time.Now())
	return c.next.CreateEscrow(ctx, req)
}

func (c *InstrumentedClient) FundEscrow(ctx context.Context, req *FundEscrowRequest) (resp *TxResponse, err error) {
	defer func(start time.Time) { c.observe(OpFundEscrow, start, err) }(time.Now())
	return c.next.FundEscrow(ctx, req)
}

func (c *InstrumentedClient) ReleasePayment(ctx context.Context, req *ReleasePaymentRequest) (resp *TxResponse, err error) {
	defer func(start time.Time) { c.observe(OpReleasePayment, start, err) }(time.Now())
	return c.next.ReleasePayment(ctx, req)
}

func (c *InstrumentedClient) SendPayment(ctx context.Context, req *SendPaymentRequest) (resp *TxResponse, err error) {
	defer func(start time.Time) { c.observe(OpSendPayment, start, err) }(time.Now())
	return c.next.SendPayment(ctx, req)
}

func (c *InstrumentedClient) GetEscrowStatus(ctx context.Context, escrowID string) (resp *EscrowStatus, err error) {
	defer func(start time.Time) { c.observe(OpGetEscrowStatus, start, err) }(time.Now())
	return c.next.GetEscrowStatus(ctx, escrowID)
}

func (c *InstrumentedClient) GetAccountBalance(ctx context.Context, address string) (resp *AccountBalance, err error) {
	defer func(start time.Time) { c.observe(OpGetAccountBalance, start, err) }(time.Now())
	return c.next.GetAccountBalance(ctx, address)
}

func (c *InstrumentedClient) GetTransaction(ctx context.Context, reference string) (resp *TransactionStatus, err error) {
	defer func(start time.Time) { c.observe(OpGetTransaction, start, err) }(time.Now())
	return c.next.GetTransaction(ctx, reference)
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service metrics. All recording methods are safe on a
// nil *Registry so services can run without metrics in tests.
type Registry struct {
	reg *prometheus.Registry

	OrdersPlaced   *prometheus.CounterVec
	OrderTxAborted *prometheus.CounterVec
	OrderTxLatency prometheus.Histogram
	OTPIssued      *prometheus.CounterVec
	OTPVerify      *prometheus.CounterVec
	MailSent       *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPRequestDur *prometheus.HistogramVec
	OTPPurged      prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	placed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_orders_placed_total",
		Help: "Orders committed, by item source",
	}, []string{"source"})
	aborted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_order_tx_aborted_total",
		Help: "Order transactions rolled back, by error kind",
	}, []string{"reason"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_order_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_otp_issued_total",
	}, []string{"purpose"})
	verify := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_otp_verify_total",
	}, []string{"result"})
	mail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_mail_sent_total",
	}, []string{"kind", "result"})
	httpReqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
	purged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_otp_purged_total",
	})

	r.MustRegister(placed, aborted, latency, issued, verify, mail, httpReqs, httpDur, purged)
	return &Registry{
		reg:            r,
		OrdersPlaced:   placed,
		OrderTxAborted: aborted,
		OrderTxLatency: latency,
		OTPIssued:      issued,
		OTPVerify:      verify,
		MailSent:       mail,
		HTTPRequests:   httpReqs,
		HTTPRequestDur: httpDur,
		OTPPurged:      purged,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) OrderPlaced(source string, took time.Duration) {
	if r == nil {
		return
	}
	r.OrdersPlaced.WithLabelValues(source).Inc()
	r.OrderTxLatency.Observe(took.Seconds())
}

func (r *Registry) OrderAborted(reason string, took time.Duration) {
	if r == nil {
		return
	}
	r.OrderTxAborted.WithLabelValues(reason).Inc()
	r.OrderTxLatency.Observe(took.Seconds())
}

func (r *Registry) OTPIssuedFor(purpose string) {
	if r == nil {
		return
	}
	r.OTPIssued.WithLabelValues(purpose).Inc()
}

func (r *Registry) OTPVerified(result string) {
	if r == nil {
		return
	}
	r.OTPVerify.WithLabelValues(result).Inc()
}

func (r *Registry) OTPPurgedN(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.OTPPurged.Add(float64(n))
}

func (r *Registry) Mail(kind string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.MailSent.WithLabelValues(kind, result).Inc()
}

func (r *Registry) HTTP(method, endpoint, status string, took time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	r.HTTPRequestDur.WithLabelValues(method, endpoint).Observe(took.Seconds())
}

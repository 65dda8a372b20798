package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service is ready to accept traffic.",
	})
)

// Auction domain metrics.
var (
	bidsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bids_accepted_total",
		Help: "Bids accepted after validation.",
	})

	bidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bids_rejected_total",
			Help: "Bids rejected, labelled by rejection reason.",
		},
		[]string{"reason"},
	)

	auctionExtensions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_extensions_total",
		Help: "Deadline extensions triggered by late bids.",
	})

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Active event stream subscriptions.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		bidsAccepted, bidsRejected, auctionExtensions, streamSubscribers,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// BidAccepted counts one accepted bid.
func BidAccepted() { bidsAccepted.Inc() }

// BidRejected counts one rejected bid with its reason label.
func BidRejected(reason string) { bidsRejected.WithLabelValues(reason).Inc() }

// AuctionExtended counts one anti-sniping extension.
func AuctionExtended() { auctionExtensions.Inc() }

// SetStreamSubscribers reports the current subscriber count.
func SetStreamSubscribers(n int) { streamSubscribers.Set(float64(n)) }

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers and tokens so label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if i == 0 || seg == "" {
			continue
		}
		switch segments[i-1] {
		case "auctions":
			segments[i] = ":id"
		case "supplier":
			segments[i] = ":token"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// statusWriter is a local copy used to capture the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

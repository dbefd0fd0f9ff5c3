package telemetry

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter serves /metrics off a Stats, the same role
// sptp/stats.PrometheusExporter plays for sptp — except it reads
// directly from an in-process Stats instead of scraping another
// process's JSON endpoint over HTTP, since ntpsteerd's Engine and its
// telemetry live in the same process. The registry, the flattened-key
// gauge-per-counter shape, and the already-registered fallback are
// carried over unchanged.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	stats      *Stats
	listenPort int
	interval   time.Duration

	counterGauges map[string]prometheus.Gauge
	peerGauges    map[string]*peerGaugeSet
}

type peerGaugeSet struct {
	offset, freqError, p00, p11, usable prometheus.Gauge
}

// NewPrometheusExporter builds an exporter reading from stats.
func NewPrometheusExporter(stats *Stats, listenPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:      prometheus.NewRegistry(),
		stats:         stats,
		listenPort:    listenPort,
		interval:      scrapeInterval,
		counterGauges: map[string]prometheus.Gauge{},
		peerGauges:    map[string]*peerGaugeSet{},
	}
}

// Start runs the periodic scrape loop and the /metrics handler,
// blocking like the teacher's Start.
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			e.scrapeMetrics()
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), mux))
}

func (e *PrometheusExporter) scrapeMetrics() {
	for key, val := range e.stats.GetCounters() {
		e.gaugeFor(key).Set(float64(val))
	}

	snap := e.stats.GetSnapshot()
	for peerID, p := range snap.Peers {
		g := e.peerGaugeSetFor(peerID)
		g.offset.Set(p.Offset)
		g.freqError.Set(p.FreqError)
		g.p00.Set(p.P00)
		g.p11.Set(p.P11)
		if p.Usable {
			g.usable.Set(1)
		} else {
			g.usable.Set(0)
		}
	}
}

func (e *PrometheusExporter) gaugeFor(key string) prometheus.Gauge {
	if g, ok := e.counterGauges[key]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(key), Help: key})
	g = e.registerOrReuse(g, flattenKey(key))
	e.counterGauges[key] = g
	return g
}

func (e *PrometheusExporter) peerGaugeSetFor(peerID string) *peerGaugeSet {
	if g, ok := e.peerGauges[peerID]; ok {
		return g
	}
	label := PeerLabel(peerID)
	g := &peerGaugeSet{
		offset:    e.namedGauge("ntpsteerd_peer_offset_seconds", label),
		freqError: e.namedGauge("ntpsteerd_peer_freq_error", label),
		p00:       e.namedGauge("ntpsteerd_peer_p00", label),
		p11:       e.namedGauge("ntpsteerd_peer_p11", label),
		usable:    e.namedGauge("ntpsteerd_peer_usable", label),
	}
	e.peerGauges[peerID] = g
	return g
}

func (e *PrometheusExporter) namedGauge(name, peerLabel string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        name,
		ConstLabels: prometheus.Labels{"peer": peerLabel},
	})
	return e.registerOrReuse(g, name+"_"+peerLabel)
}

// registerOrReuse registers g, falling back to the already-registered
// collector on a duplicate — same AlreadyRegisteredError handling as
// the teacher's scrapeMetrics.
func (e *PrometheusExporter) registerOrReuse(g prometheus.Gauge, cacheKey string) prometheus.Gauge {
	if err := e.registry.Register(g); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if ok := asAlreadyRegistered(err, are); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
		log.Errorf("telemetry: failed to register metric %s: %v", cacheKey, err)
	}
	return g
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return false
	}
	*target = are
	return true
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}

// Package metrics exposes client and relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duochat/internal/model"
)

// Client counts what the conversation loop does. A nil *Client is a no-op.
type Client struct {
	events     *prometheus.CounterVec
	reconnects prometheus.Counter
	pages      prometheus.Counter
	resyncs    prometheus.Counter
	sends      *prometheus.CounterVec
	notices    *prometheus.CounterVec
}

// NewClient registers the client collectors on reg.
func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duochat_client_events_total",
			Help: "Inbound socket events by name.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_client_reconnects_total",
			Help: "Successful socket (re)connects.",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_client_pages_loaded_total",
			Help: "History pages merged into the log.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_client_resyncs_total",
			Help: "Full log replacements after a rejected delete.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duochat_client_sends_total",
			Help: "Messages emitted by kind.",
		}, []string{"kind"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duochat_client_notices_total",
			Help: "User-visible notices by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.events, c.reconnects, c.pages, c.resyncs, c.sends, c.notices)
	return c
}

func (c *Client) Event(name string) {
	if c != nil {
		c.events.WithLabelValues(name).Inc()
	}
}

func (c *Client) Reconnect() {
	if c != nil {
		c.reconnects.Inc()
	}
}

func (c *Client) PageLoaded() {
	if c != nil {
		c.pages.Inc()
	}
}

func (c *Client) Resync() {
	if c != nil {
		c.resyncs.Inc()
	}
}

func (c *Client) Sent(kind model.Kind) {
	if c != nil {
		c.sends.WithLabelValues(string(kind)).Inc()
	}
}

func (c *Client) Notice(kind model.NoticeKind) {
	if c != nil {
		c.notices.WithLabelValues(string(kind)).Inc()
	}
}

// Relay tracks connected peers and relayed events.
type Relay struct {
	peers  prometheus.Gauge
	events *prometheus.CounterVec
}

func NewRelay(reg prometheus.Registerer) *Relay {
	r := &Relay{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duochat_relay_peers",
			Help: "Connected socket peers.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duochat_relay_events_total",
			Help: "Socket events handled by the relay.",
		}, []string{"event"}),
	}
	reg.MustRegister(r.peers, r.events)
	return r
}

func (r *Relay) SetPeers(n int) {
	if r != nil {
		r.peers.Set(float64(n))
	}
}

func (r *Relay) Event(name string) {
	if r != nil {
		r.events.WithLabelValues(name).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

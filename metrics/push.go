package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultTimeout bounds a single remote write request.
const DefaultTimeout = 30 * time.Second

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint, e.g.
	// http://victoria:8428. /api/v1/write is appended.
	URL string
	// Prefix is prepended to every metric name, followed by an underscore.
	Prefix string
	// Job and Instance are added as labels to every series.
	Job      string
	Instance string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// PushRegistry keeps the latest value of every series in memory. Flush
// sends them all in one remote write request.
type PushRegistry struct {
	cfg    PushConfig
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	name   string
	labels map[string]string
	value  float64
}

// NewPushRegistry creates a PushRegistry writing to cfg.URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &PushRegistry{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		series: make(map[string]*series),
	}
}

func seriesKey(name string, labels map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		fmt.Fprintf(&b, ",%s=%s", k, labels[k])
	}
	return b.String()
}

// update applies f to the stored value of the series.
func (r *PushRegistry) update(name string, labels map[string]string, f func(float64) float64) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[key]
	if !ok {
		s = &series{name: name, labels: maps.Clone(labels)}
		r.series[key] = s
	}
	s.value = f(s.value)
}

// Pending returns the number of series that Flush would send.
func (r *PushRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.series)
}

// Flush writes every series with the current time as the sample timestamp.
// Series are kept after a successful flush so counters stay cumulative.
func (r *PushRegistry) Flush(ctx context.Context) error {
	req := r.writeRequest()
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL+"/api/v1/write", bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (r *PushRegistry) writeRequest() *prompb.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixMilli()
	req := &prompb.WriteRequest{}
	for _, key := range slices.Sorted(maps.Keys(r.series)) {
		s := r.series[key]
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels:  r.labels(s),
			Samples: []prompb.Sample{{Value: s.value, Timestamp: ts}},
		})
	}
	return req
}

func (r *PushRegistry) labels(s *series) []prompb.Label {
	name := s.name
	if r.cfg.Prefix != "" {
		name = r.cfg.Prefix + "_" + name
	}
	labels := []prompb.Label{{Name: "__name__", Value: name}}
	if r.cfg.Job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.cfg.Job})
	}
	if r.cfg.Instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.cfg.Instance})
	}
	for _, k := range slices.Sorted(maps.Keys(s.labels)) {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}
	return labels
}

// NewGauge implements Registry.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return pushGauge{r: r, name: opts.Name}, nil
}

// NewGaugeVec implements Registry.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, _ []string) (GaugeVec, error) {
	return pushGaugeVec{r: r, name: opts.Name}, nil
}

// NewCounter implements Registry.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return pushCounter{r: r, name: opts.Name}, nil
}

// NewCounterVec implements Registry.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, _ []string) (CounterVec, error) {
	return pushCounterVec{r: r, name: opts.Name}, nil
}

type pushGauge struct {
	r      *PushRegistry
	name   string
	labels map[string]string
}

func (g pushGauge) Set(v float64) {
	g.r.update(g.name, g.labels, func(float64) float64 { return v })
}

type pushGaugeVec struct {
	r    *PushRegistry
	name string
}

func (g pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return pushGauge{r: g.r, name: g.name, labels: labels}
}

type pushCounter struct {
	r      *PushRegistry
	name   string
	labels map[string]string
}

func (c pushCounter) Inc() {
	c.Add(1)
}

func (c pushCounter) Add(v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	c.r.update(c.name, c.labels, func(old float64) float64 { return old + v })
}

type pushCounterVec struct {
	r    *PushRegistry
	name string
}

func (c pushCounterVec) With(labels prometheus.Labels) Counter {
	return pushCounter{r: c.r, name: c.name, labels: labels}
}

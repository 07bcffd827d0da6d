package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// ServiceVersion is reported as service.version on exported metrics.
var ServiceVersion = "dev"

const temporalityCumulative = 2

// OTLPExporter posts series as OTLP/HTTP JSON.
type OTLPExporter struct {
	endpoint string
	client   *http.Client
}

func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

type otlpPayload struct {
	ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
}

type otlpResourceMetrics struct {
	Resource struct {
		Attributes []otlpAttribute `json:"attributes"`
	} `json:"resource"`
	ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
}

type otlpScopeMetrics struct {
	Scope struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"scope"`
	Metrics []otlpMetric `json:"metrics"`
}

type otlpMetric struct {
	Name      string         `json:"name"`
	Unit      string         `json:"unit,omitempty"`
	Sum       *otlpSum       `json:"sum,omitempty"`
	Gauge     *otlpGauge     `json:"gauge,omitempty"`
	Histogram *otlpHistogram `json:"histogram,omitempty"`
}

type otlpSum struct {
	DataPoints             []otlpPoint `json:"dataPoints"`
	AggregationTemporality int         `json:"aggregationTemporality"`
	IsMonotonic            bool        `json:"isMonotonic"`
}

type otlpGauge struct {
	DataPoints []otlpPoint `json:"dataPoints"`
}

type otlpHistogram struct {
	DataPoints             []otlpHistogramPoint `json:"dataPoints"`
	AggregationTemporality int                  `json:"aggregationTemporality"`
}

type otlpPoint struct {
	Attributes        []otlpAttribute `json:"attributes,omitempty"`
	StartTimeUnixNano int64           `json:"startTimeUnixNano,omitempty"`
	TimeUnixNano      int64           `json:"timeUnixNano"`
	AsDouble          float64         `json:"asDouble"`
}

// otlpHistogramPoint has a single bucket; only count, sum, min and max are kept.
type otlpHistogramPoint struct {
	Attributes        []otlpAttribute `json:"attributes,omitempty"`
	StartTimeUnixNano int64           `json:"startTimeUnixNano"`
	TimeUnixNano      int64           `json:"timeUnixNano"`
	Count             int64           `json:"count"`
	Sum               float64         `json:"sum"`
	Min               float64         `json:"min"`
	Max               float64         `json:"max"`
	BucketCounts      []int64         `json:"bucketCounts"`
	ExplicitBounds    []float64       `json:"explicitBounds"`
}

type otlpAttribute struct {
	Key   string `json:"key"`
	Value struct {
		StringValue string `json:"stringValue"`
	} `json:"value"`
}

func attribute(k, v string) otlpAttribute {
	a := otlpAttribute{Key: k}
	a.Value.StringValue = v
	return a
}

func attributes(labels map[string]string) []otlpAttribute {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]otlpAttribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute(k, labels[k]))
	}
	return out
}

// Export sends series aggregated since start.
func (e *OTLPExporter) Export(start time.Time, series []Series) error {
	if len(series) == 0 {
		return nil
	}
	data, err := json.Marshal(encode(start, series))
	if err != nil {
		return fmt.Errorf("marshal OTLP payload: %w", err)
	}
	resp, err := e.client.Post(e.endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("send metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("OTLP endpoint returned status %d", resp.StatusCode)
	}
	log.Debug().Str("endpoint", e.endpoint).Int("series", len(series)).Msg("exported metrics")
	return nil
}

func encode(start time.Time, series []Series) otlpPayload {
	startNano := start.UnixNano()
	metrics := make([]otlpMetric, 0, len(series))
	for _, s := range series {
		m := otlpMetric{Name: s.Name, Unit: s.Unit}
		attrs := attributes(s.Labels)
		now := s.Updated.UnixNano()
		switch s.Kind {
		case KindSum:
			m.Sum = &otlpSum{
				DataPoints:             []otlpPoint{{Attributes: attrs, StartTimeUnixNano: startNano, TimeUnixNano: now, AsDouble: s.Sum}},
				AggregationTemporality: temporalityCumulative,
				IsMonotonic:            true,
			}
		case KindGauge:
			m.Gauge = &otlpGauge{DataPoints: []otlpPoint{{Attributes: attrs, TimeUnixNano: now, AsDouble: s.Sum}}}
		case KindHistogram:
			m.Histogram = &otlpHistogram{
				DataPoints: []otlpHistogramPoint{{
					Attributes:        attrs,
					StartTimeUnixNano: startNano,
					TimeUnixNano:      now,
					Count:             s.Count,
					Sum:               s.Sum,
					Min:               s.Min,
					Max:               s.Max,
					BucketCounts:      []int64{s.Count},
					ExplicitBounds:    []float64{},
				}},
				AggregationTemporality: temporalityCumulative,
			}
		}
		metrics = append(metrics, m)
	}

	var scope otlpScopeMetrics
	scope.Scope.Name = "chaindeploy"
	scope.Scope.Version = ServiceVersion
	scope.Metrics = metrics

	var rm otlpResourceMetrics
	rm.Resource.Attributes = []otlpAttribute{
		attribute("service.name", "chaindeploy"),
		attribute("service.version", ServiceVersion),
	}
	rm.ScopeMetrics = []otlpScopeMetrics{scope}
	return otlpPayload{ResourceMetrics: []otlpResourceMetrics{rm}}
}

package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Scrape fetches url and decodes the Prometheus text exposition it serves.
func Scrape(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: http request failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: http status %d", url, resp.StatusCode)
	}

	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("scrape %s: decode error: %w", url, err)
		}
		families[mf.GetName()] = &mf
	}

	return families, nil
}

// FormatFamilies renders every sample of the families whose name starts with
// prefix as "name{labels} value" lines, sorted by name. Histograms are
// reported by their _count and _sum.
func FormatFamilies(families map[string]*dto.MetricFamily, prefix string) []string {
	var lines []string

	for name, mf := range families {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, sampleLine(name, labels, m.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, sampleLine(name, labels, m.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				lines = append(lines,
					sampleLine(name+"_count", labels, float64(h.GetSampleCount())),
					sampleLine(name+"_sum", labels, h.GetSampleSum()),
				)
			default:
				lines = append(lines, sampleLine(name, labels, m.GetUntyped().GetValue()))
			}
		}
	}

	sort.Strings(lines)
	return lines
}

// Value returns the value of the first sample of a counter or gauge family.
func Value(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	mf, ok := families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0, false
	}

	m := mf.GetMetric()[0]
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	default:
		return m.GetUntyped().GetValue(), true
	}
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+strconv.Quote(p.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sampleLine(name, labels string, value float64) string {
	return name + labels + " " + strconv.FormatFloat(value, 'g', -1, 64)
}

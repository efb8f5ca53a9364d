package report

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/expharness/internal/store"
)

// ExportText renders every gathered family in the Prometheus text format
func ExportText(g prometheus.Gatherer) ([]byte, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WriteTextfile atomically replaces path with the current metrics, in the
// layout node_exporter's textfile collector expects
func WriteTextfile(path string, g prometheus.Gatherer) error {
	data, err := ExportText(g)
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(path, data)
}

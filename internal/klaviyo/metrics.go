package klaviyo

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	"github.com/goccy/go-json"
)

// Metric is a metric definition as listed by the account.
type Metric struct {
	ID   string
	Name string
}

// ListMetrics returns every metric definition of the account, in listing order.
// Duplicate ids are passed through unchanged.
func (c *Client) ListMetrics(ctx context.Context) ([]Metric, error) {
	resources, err := c.Paginate(ctx, c.url("/metrics/?fields[metric]=name,updated,created,integration"))
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}

	metrics := make([]Metric, 0, len(resources))
	for _, r := range resources {
		var attrs struct {
			Name string `json:"name"`
		}
		if err := r.decodeAttributes(&attrs); err != nil {
			return nil, fmt.Errorf("list metrics: decode metric %s: %w", r.ID, err)
		}
		metrics = append(metrics, Metric{ID: r.ID, Name: attrs.Name})
	}
	return metrics, nil
}

// AggregateQuery is the input of one metric-aggregates request.
type AggregateQuery struct {
	MetricID     string
	By           []string
	Measurements []aggregation.MeasurementKind
	Filter       []string
	Interval     string
}

type aggregateRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			MetricID     string                        `json:"metric_id"`
			Measurements []aggregation.MeasurementKind `json:"measurements"`
			Filter       []string                      `json:"filter"`
			By           []string                      `json:"by,omitempty"`
			Interval     string                        `json:"interval,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

type aggregateResponse struct {
	Data struct {
		Attributes struct {
			Data json.RawMessage `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

type rawRecord struct {
	Dimensions   []string                   `json:"dimensions"`
	Measurements map[string]json.RawMessage `json:"measurements"`
}

// QueryAggregates runs one aggregate query and returns its validated records.
// The result must be an array of objects each carrying every requested measurement
// as an array of numbers; anything else is a *ShapeError. Only a body that is not
// JSON at all is reported as a decode failure.
func (c *Client) QueryAggregates(ctx context.Context, q AggregateQuery) ([]aggregation.MeasurementRecord, error) {
	var req aggregateRequest
	req.Data.Type = "metric-aggregate"
	req.Data.Attributes.MetricID = q.MetricID
	req.Data.Attributes.Measurements = q.Measurements
	req.Data.Attributes.Filter = q.Filter
	req.Data.Attributes.By = q.By
	req.Data.Attributes.Interval = q.Interval

	body, err := c.post(ctx, c.url("/metric-aggregates/"), req)
	if err != nil {
		return nil, fmt.Errorf("query aggregates for metric %s: %w", q.MetricID, err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("query aggregates for metric %s: decode: response is not valid JSON", q.MetricID)
	}
	var resp aggregateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ShapeError{MetricID: q.MetricID, Reason: "unexpected envelope", Payload: string(body)}
	}
	if len(resp.Data.Attributes.Data) == 0 {
		return nil, &ShapeError{MetricID: q.MetricID, Reason: "response has no data.attributes.data", Payload: string(body)}
	}
	return decodeRecords(q.MetricID, resp.Data.Attributes.Data, q.Measurements)
}

func decodeRecords(metricID string, raw json.RawMessage, kinds []aggregation.MeasurementKind) ([]aggregation.MeasurementRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &ShapeError{MetricID: metricID, Reason: "result is not a list", Payload: string(trimmed)}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, &ShapeError{MetricID: metricID, Reason: err.Error(), Payload: string(trimmed)}
	}

	records := make([]aggregation.MeasurementRecord, 0, len(elems))
	for _, elem := range elems {
		var rr rawRecord
		if err := json.Unmarshal(elem, &rr); err != nil {
			return nil, &ShapeError{MetricID: metricID, Reason: "record is not an object", Payload: string(elem)}
		}

		rec := aggregation.MeasurementRecord{
			Dimensions:   rr.Dimensions,
			Measurements: make(map[aggregation.MeasurementKind][]float64, len(kinds)),
		}
		for _, kind := range kinds {
			values, ok := rr.Measurements[string(kind)]
			if !ok {
				return nil, &ShapeError{
					MetricID: metricID,
					Reason:   fmt.Sprintf("record lacks measurement %q", kind),
					Payload:  string(elem),
				}
			}
			var nums []float64
			if err := json.Unmarshal(values, &nums); err != nil {
				return nil, &ShapeError{
					MetricID: metricID,
					Reason:   fmt.Sprintf("measurement %q is not a list of numbers", kind),
					Payload:  string(elem),
				}
			}
			rec.Measurements[kind] = nums
		}
		records = append(records, rec)
	}
	return records, nil
}

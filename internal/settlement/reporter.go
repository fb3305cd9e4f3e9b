package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchReporter indexes each batch report as one document keyed by run ID.
type ElasticsearchReporter struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchReporter(client *elasticsearch.Client, index string) *ElasticsearchReporter {
	return &ElasticsearchReporter{client: client, index: index}
}

type reportDocument struct {
	*Report
	PaidCount    int   `json:"paidCount"`
	SkippedCount int   `json:"skippedCount"`
	FailedCount  int   `json:"failedCount"`
	TotalCents   int64 `json:"totalCents"`
}

func (r *ElasticsearchReporter) Index(ctx context.Context, report *Report) error {
	body, err := json.Marshal(reportDocument{
		Report:       report,
		PaidCount:    len(report.Paid),
		SkippedCount: len(report.Skipped),
		FailedCount:  len(report.Failed),
		TotalCents:   report.TotalPaidCents(),
	})
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: report.RunID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("index report: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index report: %s", res.String())
	}
	return nil
}

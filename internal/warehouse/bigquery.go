package warehouse

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQuery is the production Client backed by the BigQuery API.
type BigQuery struct {
	client  *bigquery.Client
	logger  *slog.Logger
	timeout time.Duration
}

// BigQueryConfig configures the BigQuery client.
type BigQueryConfig struct {
	ProjectID string
	// Timeout bounds each statement; zero means no per-unit timeout.
	Timeout time.Duration
	Logger  *slog.Logger
	// Options are forwarded to the underlying API client (credentials,
	// endpoints), mostly for tests.
	Options []option.ClientOption
}

// NewBigQuery connects a BigQuery-backed client using application
// default credentials unless overridden by Options.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, cfg.Options...)
	if err != nil {
		return nil, WrapErr(err, "", KindSubmission)
	}
	return &BigQuery{client: client, logger: logger, timeout: cfg.Timeout}, nil
}

// Close releases the underlying API client.
func (b *BigQuery) Close() error { return b.client.Close() }

// Execute implements Client.
func (b *BigQuery) Execute(ctx context.Context, sql string, params Params) (JobStats, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	start := time.Now()
	q := b.query(sql, params)
	job, err := q.Run(ctx)
	if err != nil {
		return JobStats{}, WrapErr(err, sql, KindSubmission)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return JobStats{}, WrapErr(err, sql, classify(err))
	}
	if err := status.Err(); err != nil {
		return JobStats{}, WrapErr(err, sql, classify(err))
	}

	stats := JobStats{Elapsed: time.Since(start)}
	if js := status.Statistics; js != nil {
		stats.BytesProcessed = js.TotalBytesProcessed
		if qs, ok := js.Details.(*bigquery.QueryStatistics); ok {
			stats.RowsWritten = qs.NumDMLAffectedRows
		}
	}
	b.logger.Debug("executed statement",
		"rows_written", stats.RowsWritten,
		"bytes_processed", stats.BytesProcessed,
		"elapsed_ms", stats.Elapsed.Milliseconds())
	return stats, nil
}

// ExecuteInto implements Client: the statement runs with a configured
// destination partition and WRITE_TRUNCATE disposition, so the
// submitted SQL stays byte-identical to the authored text.
func (b *BigQuery) ExecuteInto(ctx context.Context, sql string, params Params, dest Table) (JobStats, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	start := time.Now()
	q := b.query(sql, params)
	table := dest.Table
	if dest.Decorator != "" {
		table += "$" + dest.Decorator
	}
	q.Dst = b.client.DatasetInProject(dest.Project, dest.Dataset).Table(table)
	q.WriteDisposition = bigquery.WriteTruncate
	q.CreateDisposition = bigquery.CreateIfNeeded

	job, err := q.Run(ctx)
	if err != nil {
		return JobStats{}, WrapErr(err, sql, KindSubmission)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return JobStats{}, WrapErr(err, sql, classify(err))
	}
	if err := status.Err(); err != nil {
		return JobStats{}, WrapErr(err, sql, classify(err))
	}

	stats := JobStats{Elapsed: time.Since(start)}
	if js := status.Statistics; js != nil {
		stats.BytesProcessed = js.TotalBytesProcessed
		if qs, ok := js.Details.(*bigquery.QueryStatistics); ok {
			stats.RowsWritten = qs.NumDMLAffectedRows
		}
	}

	if !dest.Expiration.IsZero() {
		meta := bigquery.TableMetadataToUpdate{ExpirationTime: dest.Expiration}
		if _, err := b.client.DatasetInProject(dest.Project, dest.Dataset).Table(dest.Table).Update(ctx, meta, ""); err != nil {
			b.logger.Warn("failed to set scratch expiration", "table", dest.Ref(), "error", err)
		}
	}
	return stats, nil
}

// Query implements Client.
func (b *BigQuery) Query(ctx context.Context, sql string, params Params) ([]Row, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	it, err := b.query(sql, params).Read(ctx)
	if err != nil {
		return nil, WrapErr(err, sql, KindSubmission)
	}

	var rows []Row
	for {
		var vals map[string]bigquery.Value
		err := it.Next(&vals)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, WrapErr(err, sql, KindJobFailure)
		}
		row := make(Row, len(vals))
		for k, v := range vals {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *BigQuery) query(sql string, params Params) *bigquery.Query {
	q := b.client.Query(sql)
	for name, value := range params {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: name, Value: value})
	}
	return q
}

func (b *BigQuery) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func classify(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return KindQuota
	case strings.Contains(msg, "deadline"):
		return KindTimeout
	default:
		return KindJobFailure
	}
}

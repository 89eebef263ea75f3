package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
	"github.com/goccy/go-json"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// stagingTTL bounds how long an abandoned staging table survives.
const stagingTTL = time.Hour

// Config selects the destination table.
type Config struct {
	ProjectID       string
	Dataset         string
	Table           string
	Location        string
	CredentialsFile string
}

// Warehouse implements warehouse.Warehouse on BigQuery.
type Warehouse struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	cfg     Config
	nowFn   func() time.Time
}

// New connects to BigQuery. An empty CredentialsFile uses application default credentials.
func New(ctx context.Context, cfg Config) (*Warehouse, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	if cfg.Table == "" {
		cfg.Table = warehouse.DefaultTable
	}

	slog.Info("[BigQuery] Client ready", "project", cfg.ProjectID, "dataset", cfg.Dataset, "table", cfg.Table)
	return &Warehouse{
		client:  client,
		dataset: client.Dataset(cfg.Dataset),
		cfg:     cfg,
		nowFn:   time.Now,
	}, nil
}

// Close releases the client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) Table() string { return w.cfg.Table }

// EnsureTable creates the table when its metadata lookup returns 404, otherwise
// appends any missing fields as NULLABLE through an ETag-guarded update.
func (w *Warehouse) EnsureTable(ctx context.Context) error {
	table := w.dataset.Table(w.cfg.Table)

	md, err := table.Metadata(ctx)
	if isNotFound(err) {
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: Schema()}); err != nil {
			return fmt.Errorf("ensure table: create %s: %w", w.cfg.Table, err)
		}
		slog.Info("[BigQuery] Created table", "table", w.cfg.Table)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ensure table: metadata %s: %w", w.cfg.Table, err)
	}

	missing := missingFields(md.Schema)
	if len(missing) == 0 {
		return nil
	}
	update := bigquery.TableMetadataToUpdate{Schema: append(md.Schema, missing...)}
	if _, err := table.Update(ctx, update, md.ETag); err != nil {
		return fmt.Errorf("ensure table: add %d fields: %w", len(missing), err)
	}
	slog.Info("[BigQuery] Added missing fields", "table", w.cfg.Table, "fields", len(missing))
	return nil
}

// Stage creates an expiring staging table and loads rows into it as NDJSON.
func (w *Warehouse) Stage(ctx context.Context, staging string, rows []snapshot.Row) error {
	table := w.dataset.Table(staging)
	if err := table.Create(ctx, &bigquery.TableMetadata{
		Schema:         Schema(),
		ExpirationTime: w.nowFn().Add(stagingTTL),
	}); err != nil {
		return fmt.Errorf("stage: create %s: %w", staging, err)
	}

	payload, err := encodeNDJSON(rows)
	if err != nil {
		return fmt.Errorf("stage: encode rows: %w", err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(payload))
	src.SourceFormat = bigquery.JSON
	src.Schema = Schema()

	loader := table.LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("stage: start load: %w", err)
	}
	if err := waitJob(ctx, job); err != nil {
		return fmt.Errorf("stage: load %s: %w", staging, err)
	}
	return nil
}

func (w *Warehouse) Merge(ctx context.Context, staging string) error {
	if err := w.runQuery(ctx, mergeSQL(w.ref(w.cfg.Table), w.ref(staging))); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// Deduplicate rewrites the table only when it holds exact duplicate rows.
func (w *Warehouse) Deduplicate(ctx context.Context) error {
	target := w.ref(w.cfg.Table)

	dups, err := w.countDuplicates(ctx, target)
	if err != nil {
		return fmt.Errorf("deduplicate: count: %w", err)
	}
	if dups == 0 {
		slog.Debug("[BigQuery] No duplicate rows", "table", w.cfg.Table)
		return nil
	}

	slog.Warn("[BigQuery] Collapsing duplicate rows", "table", w.cfg.Table, "duplicates", dups)
	if err := w.runQuery(ctx, deduplicateSQL(target)); err != nil {
		return fmt.Errorf("deduplicate: %w", err)
	}
	return nil
}

func (w *Warehouse) countDuplicates(ctx context.Context, target string) (int64, error) {
	it, err := w.client.Query(countDuplicatesSQL(target)).Read(ctx)
	if err != nil {
		return 0, err
	}
	var row struct {
		Duplicates int64 `bigquery:"duplicates"`
	}
	if err := it.Next(&row); err != nil {
		return 0, err
	}
	return row.Duplicates, nil
}

func (w *Warehouse) DropStaging(ctx context.Context, staging string) error {
	if err := w.dataset.Table(staging).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("drop staging %s: %w", staging, err)
	}
	return nil
}

func (w *Warehouse) Ping(ctx context.Context) error {
	if _, err := w.dataset.Metadata(ctx); err != nil {
		return fmt.Errorf("bigquery: dataset %s: %w", w.cfg.Dataset, err)
	}
	return nil
}

func (w *Warehouse) ref(table string) string {
	return qualified(w.client.Project(), w.cfg.Dataset, table)
}

func (w *Warehouse) runQuery(ctx context.Context, sql string) error {
	q := w.client.Query(sql)
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("start query: %w", err)
	}
	return waitJob(ctx, job)
}

func waitJob(ctx context.Context, job *bigquery.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID(), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// Schema is the BigQuery schema of the destination and staging tables.
func Schema() bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(warehouse.Columns))
	for _, col := range warehouse.Columns {
		schema = append(schema, fieldFor(col))
	}
	return schema
}

func fieldFor(col warehouse.Column) *bigquery.FieldSchema {
	f := &bigquery.FieldSchema{Name: col.Name}
	switch col.Type {
	case warehouse.TypeNumeric:
		f.Type = bigquery.NumericFieldType
		f.Precision = 20
		f.Scale = 4
	case warehouse.TypeInteger:
		f.Type = bigquery.IntegerFieldType
	default:
		f.Type = bigquery.StringFieldType
	}
	return f
}

// missingFields returns the schema fields absent from existing, as NULLABLE.
func missingFields(existing bigquery.Schema) []*bigquery.FieldSchema {
	have := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		have[f.Name] = struct{}{}
	}
	var missing []*bigquery.FieldSchema
	for _, col := range warehouse.Columns {
		if _, ok := have[col.Name]; ok {
			continue
		}
		f := fieldFor(col)
		f.Required = false
		missing = append(missing, f)
	}
	return missing
}

// encodeNDJSON renders rows as newline-delimited JSON keyed by column name.
// Decimals are written as strings, which BigQuery parses exactly into NUMERIC.
func encodeNDJSON(rows []snapshot.Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	names := warehouse.ColumnNames()
	for _, row := range rows {
		values := warehouse.RowValues(row)
		record := make(map[string]interface{}, len(names))
		for i, name := range names {
			record[name] = values[i]
		}
		if err := enc.Encode(record); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

package courier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Importer loads a rate file through ingest.
type Importer struct {
	runner    ingest.Runner
	sink      ingest.ProgressSink
	chunkSize int
	logger    *slog.Logger
	builder   sq.StatementBuilderType
	now       func() time.Time
}

// NewImporter constructs Importer.
func NewImporter(runner ingest.Runner, sink ingest.ProgressSink, chunkSize int, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		runner:    runner,
		sink:      sink,
		chunkSize: chunkSize,
		logger:    logger,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Import reads path and upserts every valid row. The file is removed afterwards.
func (im *Importer) Import(ctx context.Context, jobID, path string) (ingest.Result, error) {
	records, err := im.read(path)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			im.logger.Warn("courier cleanup source", slog.String("path", path), slog.Any("error", rmErr))
		}
		if im.sink != nil {
			_ = im.sink.Report(ctx, ingest.Progress{JobID: jobID, Status: ingest.StatusFailed, Error: err.Error(), UpdatedAt: im.now()})
		}
		return ingest.Result{JobID: jobID}, err
	}
	res, err := ingest.Ingest(ctx, im.runner, records, im.processRow, ingest.Options{
		JobID:      jobID,
		ChunkSize:  im.chunkSize,
		Sink:       im.sink,
		Logger:     im.logger,
		SourcePath: path,
	})
	im.logger.Info("courier rates imported",
		slog.String("job_id", jobID),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed_chunks", res.FailedChunks))
	return res, err
}

func (im *Importer) read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("courier: open source: %w", err)
	}
	defer f.Close()
	return ReadRecords(f)
}

func (im *Importer) processRow(ctx context.Context, q db.Querier, rec Record) error {
	rate, err := ParseRecord(rec)
	if err != nil {
		return err
	}
	rate.UpdatedAt = im.now()
	return im.upsert(ctx, q, rate)
}

func (im *Importer) upsert(ctx context.Context, q db.Querier, rate Rate) error {
	sql, args, err := im.builder.Insert("courier_rates").
		Columns("courier_code", "service_code", "origin_code", "destination_code", "weight_kg", "price", "etd", "updated_at").
		Values(rate.CourierCode, rate.ServiceCode, rate.OriginCode, rate.DestinationCode, rate.WeightKg, rate.Price, rate.ETD, rate.UpdatedAt).
		Suffix(`ON CONFLICT (courier_code, service_code, origin_code, destination_code)
DO UPDATE SET weight_kg=EXCLUDED.weight_kg, price=EXCLUDED.price, etd=EXCLUDED.etd, updated_at=EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("courier: build upsert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("courier: upsert %s/%s %s-%s: %w", rate.CourierCode, rate.ServiceCode, rate.OriginCode, rate.DestinationCode, err)
	}
	return nil
}

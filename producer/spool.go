package producer

import (
	"archive/zip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	_ "modernc.org/sqlite"

	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/internal/logging"
	"github.com/greenearth/esingest/internal/spoolstate"
)

// RowDecoder maps one row of an open *sql.Rows query result (plus the
// snapshot's filename) into D. Callers own the Scan call and the column
// layout; the spool producer never inspects row shape beyond handing rows
// to the caller's decoder.
type RowDecoder[D any] func(rows *sql.Rows, sourceFilename string) (D, error)

// SpoolConfig configures a spool producer's polling behavior and the
// query used to read rows out of each opened snapshot.
type SpoolConfig struct {
	// Mode is "once" (drain the current backlog and stop) or "watch"
	// (poll Interval forever).
	Mode string
	Interval time.Duration
	// Query selects the rows to read from each opened snapshot.
	Query string
	// DrainMaxWait bounds how long a snapshot's MarkProcessed waits for
	// its rows to clear the channel before giving up and trying again on
	// the next poll.
	DrainMaxWait time.Duration
}

func (c SpoolConfig) withDefaults() SpoolConfig {
	if c.DrainMaxWait <= 0 {
		c.DrainMaxWait = 30 * time.Second
	}
	return c
}

type baseSpoolProducer[D any] struct {
	cfg SpoolConfig
	state *spoolstate.Manager
	logger logging.Logger
	decode RowDecoder[D]
}

// LocalSpoolProducer polls a local directory for ".db.zip" SQLite
// snapshots.
type LocalSpoolProducer[D any] struct {
	baseSpoolProducer[D]
	directory string
}

// NewLocalSpoolProducer builds a producer over directory.
func NewLocalSpoolProducer[D any](directory string, cfg SpoolConfig, state *spoolstate.Manager, logger logging.Logger, decode RowDecoder[D]) *LocalSpoolProducer[D] {
	return &LocalSpoolProducer[D]{
		baseSpoolProducer: baseSpoolProducer[D]{cfg: cfg.withDefaults(), state: state, logger: logger, decode: decode},
		directory: directory,
	}
}

// Run discovers and processes snapshots until ctx is cancelled (in "watch"
// mode) or the current backlog is drained once (in "once" mode).
func (lp *LocalSpoolProducer[D]) Run(ctx context.Context, ch *channel.Channel[D]) error {
	lp.logger.Info("starting local spool producer in %s mode (directory: %s)", lp.cfg.Mode, lp.directory)

	for {
		files, err := lp.discoverFiles()
		if err != nil {
			lp.logger.Error("failed to discover files: %v", err)
		} else {
			lp.processFiles(ctx, ch, files)
		}

		if lp.cfg.Mode == "once" {
			lp.logger.Info("single run complete, exiting local spool producer")
			return nil
		}

		select {
			case <-ctx.Done():
			return ctx.Err()
			case <-time.After(lp.cfg.Interval):
		}
	}
}

func (lp *LocalSpoolProducer[D]) discoverFiles() ([]string, error) {
	entries, err := os.ReadDir(lp.directory)
	if err != nil {
		return nil, fmt.Errorf("esingest/producer: read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db.zip") {
			continue
		}
		if lp.state.IsProcessed(entry.Name()) || lp.state.IsFailed(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}

	sort.Strings(files)
	lp.logger.Info("discovered %d unprocessed snapshot(s)", len(files))
	return files, nil
}

func (lp *LocalSpoolProducer[D]) processFiles(ctx context.Context, ch *channel.Channel[D], files []string) {
	for _, filename := range files {
		if ctx.Err() != nil {
			return
		}

		filePath := filepath.Join(lp.directory, filename)
		if err := lp.processFile(ctx, ch, filePath, filename); err != nil {
			lp.logger.Error("failed to process snapshot %s: %v", filename, err)
			if err := lp.state.MarkFailed(filename, err.Error()); err != nil {
				lp.logger.Error("failed to record failure for %s: %v", filename, err)
			}
			continue
		}

		if !ch.WaitForDrain(ctx, lp.cfg.DrainMaxWait) {
			lp.logger.Error("snapshot %s rows did not drain within %s, leaving unmarked for retry", filename, lp.cfg.DrainMaxWait)
			continue
		}
		if err := lp.state.MarkProcessed(filename); err != nil {
			lp.logger.Error("failed to record completion for %s: %v", filename, err)
		}
	}
}

func (lp *LocalSpoolProducer[D]) processFile(ctx context.Context, ch *channel.Channel[D], filePath, filename string) error {
	tmpDir, err := os.MkdirTemp("", "esingest-spool-*")
	if err != nil {
		return fmt.Errorf("esingest/producer: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath, err := unzipSnapshot(filePath, tmpDir)
	if err != nil {
		return err
	}

	if err := lp.queueRows(ctx, ch, dbPath, filename); err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		lp.logger.Error("failed to remove snapshot zip %s: %v", filePath, err)
	}
	return nil
}

func (lp *LocalSpoolProducer[D]) queueRows(ctx context.Context, ch *channel.Channel[D], dbPath, filename string) error {
	return queueRowsFromSQLite(ctx, ch, dbPath, filename, lp.cfg.Query, lp.decode, lp.logger)
}

// S3SpoolProducer polls an S3 prefix for ".db.zip" SQLite snapshots.
type S3SpoolProducer[D any] struct {
	baseSpoolProducer[D]
	bucket string
	prefix string
	client *s3.Client
}

// NewS3SpoolProducer builds a producer over an S3 bucket/prefix, loading
// the default AWS config for region.
func NewS3SpoolProducer[D any](ctx context.Context, bucket, prefix, region string, cfg SpoolConfig, state *spoolstate.Manager, logger logging.Logger, decode RowDecoder[D]) (*S3SpoolProducer[D], error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("esingest/producer: load AWS config: %w", err)
	}

	return &S3SpoolProducer[D]{
		baseSpoolProducer: baseSpoolProducer[D]{cfg: cfg.withDefaults(), state: state, logger: logger, decode: decode},
		bucket: bucket,
		prefix: prefix,
		client: s3.NewFromConfig(awsCfg),
	}, nil
}

// Run discovers and processes snapshots from S3 until ctx is cancelled (in
// "watch" mode) or the current backlog is drained once (in "once" mode).
func (sp *S3SpoolProducer[D]) Run(ctx context.Context, ch *channel.Channel[D]) error {
	sp.logger.Info("starting S3 spool producer in %s mode (bucket: %s, prefix: %s)", sp.cfg.Mode, sp.bucket, sp.prefix)

	for {
		keys, err := sp.discoverFiles(ctx)
		if err != nil {
			sp.logger.Error("failed to discover S3 files: %v", err)
		} else {
			sp.processFiles(ctx, ch, keys)
		}

		if sp.cfg.Mode == "once" {
			sp.logger.Info("single run complete, exiting S3 spool producer")
			return nil
		}

		select {
			case <-ctx.Done():
			return ctx.Err()
			case <-time.After(sp.cfg.Interval):
		}
	}
}

func (sp *S3SpoolProducer[D]) discoverFiles(ctx context.Context) ([]string, error) {
	result, err := sp.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(sp.bucket),
			Prefix: aws.String(sp.prefix),
			RequestPayer: "requester",
		})
	if err != nil {
		return nil, fmt.Errorf("esingest/producer: list S3 objects: %w", err)
	}

	var keys []string
	for _, obj := range result.Contents {
		key := *obj.Key
		filename := filepath.Base(key)
		if !strings.HasSuffix(filename, ".db.zip") {
			continue
		}
		if sp.state.IsProcessed(filename) || sp.state.IsFailed(filename) {
			continue
		}
		keys = append(keys, key)
	}

	sort.Strings(keys)
	sp.logger.Info("discovered %d unprocessed snapshot(s) in S3", len(keys))
	return keys, nil
}

func (sp *S3SpoolProducer[D]) processFiles(ctx context.Context, ch *channel.Channel[D], keys []string) {
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}

		filename := filepath.Base(key)
		if err := sp.processFile(ctx, ch, key, filename); err != nil {
			sp.logger.Error("failed to process S3 snapshot %s: %v", key, err)
			if err := sp.state.MarkFailed(filename, err.Error()); err != nil {
				sp.logger.Error("failed to record failure for %s: %v", filename, err)
			}
			continue
		}

		if !ch.WaitForDrain(ctx, sp.cfg.DrainMaxWait) {
			sp.logger.Error("S3 snapshot %s rows did not drain within %s, leaving unmarked for retry", filename, sp.cfg.DrainMaxWait)
			continue
		}
		if err := sp.state.MarkProcessed(filename); err != nil {
			sp.logger.Error("failed to record completion for %s: %v", filename, err)
		}
	}
}

func (sp *S3SpoolProducer[D]) processFile(ctx context.Context, ch *channel.Channel[D], key, filename string) error {
	tmpDir, err := os.MkdirTemp("", "esingest-spool-s3-*")
	if err != nil {
		return fmt.Errorf("esingest/producer: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	zipPath := filepath.Join(tmpDir, filename)
	if err := sp.downloadFile(ctx, key, zipPath); err != nil {
		return err
	}

	dbPath, err := unzipSnapshot(zipPath, tmpDir)
	if err != nil {
		return err
	}

	return queueRowsFromSQLite(ctx, ch, dbPath, filename, sp.cfg.Query, sp.decode, sp.logger)
}

func (sp *S3SpoolProducer[D]) downloadFile(ctx context.Context, key, destPath string) error {
	result, err := sp.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(sp.bucket),
			Key: aws.String(key),
			RequestPayer: "requester",
		})
	if err != nil {
		return fmt.Errorf("esingest/producer: get S3 object: %w", err)
	}
	defer result.Body.Close()

	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("esingest/producer: create local file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, result.Body); err != nil {
		return fmt.Errorf("esingest/producer: write local file: %w", err)
	}
	return nil
}

// unzipSnapshot extracts the single ".db" file inside zipPath into destDir.
func unzipSnapshot(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("esingest/producer: open snapshot zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".db") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("esingest/producer: open zipped db: %w", err)
		}

		dbPath := filepath.Join(destDir, filepath.Base(f.Name))
		outFile, err := os.Create(dbPath)
		if err != nil {
			rc.Close()
			return "", fmt.Errorf("esingest/producer: create extracted db: %w", err)
		}

		_, copyErr := io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if copyErr != nil {
			return "", fmt.Errorf("esingest/producer: extract db: %w", copyErr)
		}

		return dbPath, nil
	}

	return "", fmt.Errorf("esingest/producer: no.db file found in snapshot zip")
}

// queueRowsFromSQLite opens dbPath, runs query, and decodes+writes each row
// into ch, the shared tail of both spool producers' processFile paths.
func queueRowsFromSQLite[D any](ctx context.Context, ch *channel.Channel[D], dbPath, filename, query string, decode RowDecoder[D], logger logging.Logger) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("esingest/producer: open sqlite snapshot: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("esingest/producer: query snapshot: %w", err)
	}
	defer rows.Close()

	queued := 0
	for rows.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doc, err := decode(rows, filename)
		if err != nil {
			logger.Error("failed to decode row from %s: %v", filename, err)
			continue
		}
		if !ch.WaitToWrite(ctx, doc) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("esingest/producer: channel rejected row from %s (state %s)", filename, ch.State())
		}
		queued++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("esingest/producer: iterate snapshot rows: %w", err)
	}

	logger.Info("queued %d row(s) from %s", queued, filename)
	return nil
}

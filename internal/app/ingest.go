package app

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"transient-alerts/internal/archive"
	"transient-alerts/internal/service"
	"transient-alerts/internal/storage"
)

// IngestReport summarises a batch run.
type IngestReport struct {
	Members    int
	Stored     int
	Duplicates int
	Failed     int
}

type processor interface {
	Process(ctx context.Context, raw []byte) ([]service.Result, error)
}

// Ingest runs every packet of a local archive through the pipeline. Members
// that fail are logged and skipped; only an unreadable container is an error.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) (IngestReport, error) {
	f, err := os.Open(opts.Path)
	if err != nil {
		return IngestReport{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var store service.Store
	arch := archive.Archiver(archive.Nop{})
	if opts.DryRun {
		a.Logger.Warn().Msg("ingest dry-run: nothing is written to the database or bucket")
		store = storage.NewMemoryStore()
	} else {
		pg, closeStore, err := a.requireStore(ctx, "ingest")
		if err != nil {
			return IngestReport{}, err
		}
		defer closeStore()
		store = pg

		if arch, err = a.newArchiver(ctx); err != nil {
			return IngestReport{}, err
		}
		defer a.closeArchiver(arch)
	}

	svc := service.New(a.Config, store, arch, a.Logger)
	report, err := a.ingestReader(ctx, f, opts.Path, svc)
	if err != nil {
		return report, err
	}

	a.Logger.Info().
		Int("members", report.Members).
		Int("stored", report.Stored).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed).
		Msg("ingest complete")
	fmt.Fprintf(a.Out, "members=%d stored=%d duplicates=%d failed=%d\n",
		report.Members, report.Stored, report.Duplicates, report.Failed)
	return report, nil
}

func (a *App) ingestReader(ctx context.Context, r io.Reader, name string, proc processor) (IngestReport, error) {
	br := bufio.NewReader(r)
	if strings.EqualFold(filepath.Ext(name), ".avro") {
		raw, err := io.ReadAll(br)
		if err != nil {
			return IngestReport{}, fmt.Errorf("read packet: %w", err)
		}
		var report IngestReport
		a.ingestMember(ctx, proc, filepath.Base(name), raw, &report)
		return report, nil
	}

	stream, err := maybeGzip(br)
	if err != nil {
		return IngestReport{}, err
	}
	tr := tar.NewReader(stream)

	var report IngestReport
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if report.Members == 0 {
				return report, fmt.Errorf("read archive: %w", err)
			}
			a.Logger.Error().Err(err).Int("members", report.Members).Msg("archive truncated; stopping")
			break
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		raw, err := io.ReadAll(tr)
		if err != nil {
			report.Members++
			report.Failed++
			a.Logger.Error().Err(err).Str("member", hdr.Name).Msg("read archive member")
			continue
		}
		a.ingestMember(ctx, proc, hdr.Name, raw, &report)
	}
	return report, nil
}

func (a *App) ingestMember(ctx context.Context, proc processor, member string, raw []byte, report *IngestReport) {
	report.Members++
	results, err := proc.Process(ctx, raw)
	for _, r := range results {
		switch r.Outcome {
		case service.Stored:
			report.Stored++
		case service.Duplicate:
			report.Duplicates++
		}
	}
	if err != nil {
		report.Failed++
		a.Logger.Warn().Err(err).Str("member", member).Msg("skipping archive member")
	}
}

func maybeGzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, nil
	}
	return br, nil
}

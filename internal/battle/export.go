package battle

import (
	"context"
	"errors"
	"log/slog"
)

// LogExporter writes closed transcripts to the structured log.
type LogExporter struct {
	Logger *slog.Logger
}

// Export implements Exporter.
func (e LogExporter) Export(ctx context.Context, t *Transcript) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "battle: transcript",
		"id", t.ID,
		"outcome", t.Outcome.String(),
		"transcript", t.Lines(),
	)
	return nil
}

// MultiExporter hands each transcript to every exporter in order. The
// errors of all failing exporters are joined.
type MultiExporter []Exporter

// Export implements Exporter.
func (m MultiExporter) Export(ctx context.Context, t *Transcript) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

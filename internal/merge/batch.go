package merge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

const (
	DefaultBatchSize     = 250
	DefaultWarnThreshold = 1000
)

// ErrCancelled is returned when the caller declines a large batch
var ErrCancelled = errors.New("merge cancelled")

// Batch resolves templates over a record set in fixed-size chunks
type Batch struct {
	Resolver *Resolver

	// Size is the number of records resolved between yields
	Size int

	// WarnThreshold is the record count above which Confirm is consulted
	WarnThreshold int

	// Confirm is asked before a batch larger than WarnThreshold starts.
	// A nil Confirm lets the batch proceed with a logged warning.
	Confirm func(records int) bool

	// OnProgress receives a strictly increasing percentage, ending at 100
	OnProgress func(percent int)

	Logger *zap.Logger
}

// NewBatch creates a batch runner with default sizing
func NewBatch(resolver *Resolver, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{
		Resolver:      resolver,
		Size:          DefaultBatchSize,
		WarnThreshold: DefaultWarnThreshold,
		Logger:        logger,
	}
}

// Run produces one row per record, each holding one resolved pair per
// template. The output does not depend on Size.
func (b *Batch) Run(ctx context.Context, records []map[string]*string, templates []model.MergeTemplate, mctx map[string]*string) ([]model.MergedRow, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := b.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	threshold := b.WarnThreshold
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}

	n := len(records)
	if n > threshold {
		if b.Confirm == nil {
			logger.Warn("large merge batch", zap.Int("records", n), zap.Int("threshold", threshold))
		} else if !b.Confirm(n) {
			return nil, ErrCancelled
		}
	}

	rows := make([]model.MergedRow, 0, n)
	last := -1
	report := func(done int) {
		pct := 100
		if n > 0 {
			pct = done * 100 / n
		}
		if pct > last {
			last = pct
			if b.OnProgress != nil {
				b.OnProgress(pct)
			}
		}
	}

	for start := 0; start < n; start += size {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("merge interrupted after %d of %d records: %w", start, n, err)
		}

		end := min(start+size, n)
		for _, rec := range records[start:end] {
			row := model.MergedRow{
				Record:    rec,
				Templates: make([]model.ResolvedTemplate, len(templates)),
			}
			for i, tpl := range templates {
				row.Templates[i] = b.Resolver.ResolveTemplate(tpl, rec, mctx)
			}
			rows = append(rows, row)
		}

		report(end)
		runtime.Gosched()
	}
	report(n)

	logger.Debug("merge batch complete", zap.Int("records", n), zap.Int("templates", len(templates)))
	return rows, nil
}

// SchemaFromRecords declares every key seen across the records, in first-seen
// order, and every key of the context. Keys of a map are visited sorted so the
// order is stable for each record.
func SchemaFromRecords(records []map[string]*string, mctx map[string]*string) Schema {
	var s Schema
	seen := map[string]bool{}
	for _, rec := range records {
		for _, k := range sortedKeys(rec) {
			if !seen[k] {
				seen[k] = true
				s.RecordFields = append(s.RecordFields, k)
			}
		}
	}
	s.ContextFields = sortedKeys(mctx)
	return s
}

// Table flattens merged rows into a header and string records:
// the record fields followed by a subject and body column per template.
func Table(recordFields []string, templates []model.MergeTemplate, rows []model.MergedRow) ([]string, [][]string) {
	header := make([]string, 0, len(recordFields)+2*len(templates))
	header = append(header, recordFields...)
	for _, tpl := range templates {
		header = append(header, tpl.Name+" Subject", tpl.Name+" Body")
	}

	out := make([][]string, len(rows))
	for i, row := range rows {
		line := make([]string, 0, len(header))
		for _, f := range recordFields {
			if v := row.Record[f]; v != nil {
				line = append(line, *v)
			} else {
				line = append(line, "")
			}
		}
		for _, rt := range row.Templates {
			line = append(line, rt.Subject, rt.Body)
		}
		out[i] = line
	}
	return header, out
}

func sortedKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

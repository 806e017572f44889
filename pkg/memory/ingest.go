package memory

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

const (
	ingestChunkBytes   = 2000
	ingestChunkOverlap = 200

	// maxIngestFileBytes bounds what a single file may weigh before
	// it is skipped instead of parsed.
	maxIngestFileBytes = 20 << 20

	// maxSheetCells caps how many populated cells are read per
	// spreadsheet sheet.
	maxSheetCells = 1000
)

var supportedIngestExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".md":   true,
	".txt":  true,
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Files   int
	Chunks  int
	Skipped []string
}

// Ingestor loads documents into the recall store so the research
// worker can draw on them.
type Ingestor struct {
	store *RecallStore
}

// NewIngestor builds an ingestor over the given store.
func NewIngestor(store *RecallStore) (*Ingestor, error) {
	if store == nil {
		return nil, fmt.Errorf("ingestor requires a recall store")
	}
	return &Ingestor{store: store}, nil
}

// IngestPath ingests a single file, or every supported file under a
// directory (pdf, docx, xlsx, md, txt). Files that cannot be parsed
// are reported as skipped rather than failing the run; hidden
// directories are not descended into.
func (ing *Ingestor) IngestPath(ctx context.Context, path string) (*IngestReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot ingest %s: %w", path, err)
	}

	report := &IngestReport{}

	if !info.IsDir() {
		if err := ing.ingestFile(ctx, path, info.Size(), report); err != nil {
			return nil, err
		}
		return report, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !supportedIngestExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return ing.ingestFile(ctx, p, fi.Size(), report)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Ingestion finished",
		"path", path,
		"files", report.Files,
		"chunks", report.Chunks,
		"skipped", len(report.Skipped))
	return report, nil
}

// ingestFile extracts, chunks and records one file. Extraction
// problems mark the file skipped; only store failures and
// cancellation abort the run.
func (ing *Ingestor) ingestFile(ctx context.Context, path string, size int64, report *IngestReport) error {
	if size > maxIngestFileBytes {
		slog.Warn("Skipping oversized file", "path", path, "bytes", size)
		report.Skipped = append(report.Skipped, path)
		return nil
	}

	text, err := extractText(ctx, path, size)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Skipping file", "path", path, "error", err)
		report.Skipped = append(report.Skipped, path)
		return nil
	}

	chunks := chunkText(text, ingestChunkBytes, ingestChunkOverlap)
	if len(chunks) == 0 {
		slog.Warn("Skipping file with no text content", "path", path)
		report.Skipped = append(report.Skipped, path)
		return nil
	}

	name := filepath.Base(path)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta := map[string]string{
			"source": name,
			"chunk":  fmt.Sprintf("%d/%d", i+1, len(chunks)),
		}
		if err := ing.store.Record(ctx, "ingest", chunk, meta); err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
	}

	report.Files++
	report.Chunks += len(chunks)
	slog.Info("Ingested file", "path", path, "chunks", len(chunks))
	return nil
}

func extractText(ctx context.Context, path string, size int64) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(ctx, path, size)
	case ".docx":
		return extractDocx(path)
	case ".xlsx":
		return extractXlsx(ctx, path)
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func extractPDF(ctx context.Context, path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	reader, err := pdf.NewReader(f, size)
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("Failed to extract pdf page", "path", path, "page", pageNum, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer doc.Close()

	// GetContent returns the raw document XML.
	return flattenXML(doc.Editable().GetContent()), nil
}

func extractXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Warn("Failed to read sheet", "path", path, "sheet", sheet, "error", err)
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Sheet %s:\n", sheet)
		cells := 0
		for _, row := range rows {
			if cells >= maxSheetCells {
				b.WriteString("(truncated)\n")
				break
			}
			fields := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					fields = append(fields, c)
					cells++
				}
			}
			if len(fields) > 0 {
				b.WriteString(strings.Join(fields, "\t"))
				b.WriteByte('\n')
			}
		}
		if cells > 0 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n"), nil
}

// flattenXML reduces WordprocessingML to its text runs, keeping
// paragraph boundaries as newlines.
func flattenXML(s string) string {
	s = strings.ReplaceAll(s, "</w:p>", "\n")

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	out := b.String()
	for _, entity := range [][2]string{
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&apos;", "'"},
		{"&amp;", "&"},
	} {
		out = strings.ReplaceAll(out, entity[0], entity[1])
	}
	return out
}

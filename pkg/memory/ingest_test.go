package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/xuri/excelize/v2"
)

func testIngestor(t *testing.T) (*RecallStore, *Ingestor) {
	t.Helper()
	store := testStore(t, config.MemoryConfig{})
	ing, err := NewIngestor(store)
	require.NoError(t, err)
	return store, ing
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeTestXlsx(t *testing.T, dir, name string) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Quarterly"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Revenue"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 1200))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 1350))

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestIngestor_TextFile(t *testing.T) {
	ctx := context.Background()
	store, ing := testIngestor(t)

	path := writeTestFile(t, t.TempDir(), "notes.txt", "Solar panel efficiency notes.\nCollected during the site survey.\n")

	report, err := ing.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Chunks)
	assert.Empty(t, report.Skipped)

	docs, err := store.Recall(ctx, "solar efficiency", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Solar panel")
	assert.Equal(t, "notes.txt", docs[0].Metadata["source"])
	assert.Equal(t, "ingest", docs[0].Metadata["origin"])
	assert.Equal(t, "1/1", docs[0].Metadata["chunk"])
}

func TestIngestor_ChunksLargeFile(t *testing.T) {
	ctx := context.Background()
	store, ing := testIngestor(t)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Paragraph %03d about solar deployments and their costs.\n", i)
	}
	path := writeTestFile(t, t.TempDir(), "survey.md", b.String())

	report, err := ing.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Greater(t, report.Chunks, 1)
	assert.Equal(t, report.Chunks, store.Count())
}

func TestIngestor_Directory(t *testing.T) {
	ctx := context.Background()
	store, ing := testIngestor(t)

	dir := t.TempDir()
	writeTestFile(t, dir, "a.md", "Solar deployment summary.\n")
	writeTestFile(t, dir, "b.txt", "Onboarding checklist for the new hire.\n")
	writeTestXlsx(t, dir, "report.xlsx")
	writeTestFile(t, dir, "main.go", "package main\n")

	hidden := filepath.Join(dir, ".cache")
	require.NoError(t, os.MkdirAll(hidden, 0o755))
	writeTestFile(t, hidden, "secret.txt", "Battery secrets that must not be ingested.\n")

	report, err := ing.IngestPath(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Files)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 3, store.Count())

	docs, err := store.Recall(ctx, "quarterly revenue", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Quarterly")
	assert.Equal(t, "report.xlsx", docs[0].Metadata["source"])
}

func TestIngestor_UnsupportedFileSkipped(t *testing.T) {
	_, ing := testIngestor(t)

	path := writeTestFile(t, t.TempDir(), "data.csv", "a,b,c\n")

	report, err := ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Equal(t, []string{path}, report.Skipped)
}

func TestIngestor_EmptyFileSkipped(t *testing.T) {
	_, ing := testIngestor(t)

	path := writeTestFile(t, t.TempDir(), "empty.txt", "")

	report, err := ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Len(t, report.Skipped, 1)
}

func TestIngestor_MissingPath(t *testing.T) {
	_, ing := testIngestor(t)

	_, err := ing.IngestPath(context.Background(), filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

func TestIngestor_CancelledContext(t *testing.T) {
	_, ing := testIngestor(t)

	path := writeTestFile(t, t.TempDir(), "notes.txt", "Some notes.\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ing.IngestPath(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFlattenXML(t *testing.T) {
	in := `<w:p><w:r><w:t>Hello &amp; welcome</w:t></w:r></w:p><w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>`

	out := flattenXML(in)
	assert.Equal(t, "Hello & welcome\nSecond paragraph\n", out)
}

func TestFlattenXML_Entities(t *testing.T) {
	assert.Equal(t, `<tag> "q" 'a'`, flattenXML("&lt;tag&gt; &quot;q&quot; &apos;a&apos;"))
}

package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "artifacts.db"),
		AutoMigrate:  true,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	return db
}

func writeArtifact[T any](t *testing.T, dir, filename string, rows []T) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, filename))
	require.NoError(t, err)
	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestExtractPageNumbers(t *testing.T) {
	start, end := ExtractPageNumbers("<!-- PAGE 2 -->\n\nintro\n\n<!-- PAGE 5 -->\n\nbody")
	require.NotNil(t, start)
	require.NotNil(t, end)
	assert.Equal(t, 2, *start)
	assert.Equal(t, 5, *end)

	start, end = ExtractPageNumbers("no markers here")
	assert.Nil(t, start)
	assert.Nil(t, end)

	start, end = ExtractPageNumbers("")
	assert.Nil(t, start)
	assert.Nil(t, end)
}

func TestImportCollection(t *testing.T) {
	dir := t.TempDir()

	writeArtifact(t, dir, "create_final_documents.parquet", []documentRow{
		{ID: "doc-1", Title: "report.txt", Source: "report.txt", RawContent: "full text"},
	})
	writeArtifact(t, dir, "create_final_text_units.parquet", []textUnitRow{
		{ID: "tu-1", Text: "<!-- PAGE 1 -->\n\nchunk one", NTokens: 42, DocumentIDs: []string{"doc-1"}},
		{ID: "tu-2", Text: "plain chunk", NTokens: 17, DocumentIDs: []string{"doc-1"}},
	})
	writeArtifact(t, dir, "create_final_entities.parquet", []entityParquetRow{
		{ID: "ent-1", Title: "ACME", Type: "organization", Description: "a company", TextUnitIDs: []string{"tu-1"}},
	})
	writeArtifact(t, dir, "create_final_relationships.parquet", []relationshipRow{
		{ID: "rel-1", Source: "ACME", Target: "Jane Doe", Weight: 2.5, TextUnitIDs: []string{"tu-1"}},
	})
	writeArtifact(t, dir, "create_final_community_reports.parquet", []reportRow{
		{ID: "rep-1", Community: 0, Level: 0, Title: "Cluster 0", Summary: "about ACME", FullContent: "...", Rank: 7.5},
	})

	db := testDB(t)
	im := NewImporter(db, nil)

	stats, err := im.ImportCollection(dir, "quarterly reports")
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.Counts["documents"])
	assert.EqualValues(t, 2, stats.Counts["text_units"])
	assert.EqualValues(t, 1, stats.Counts["entities"])
	assert.EqualValues(t, 1, stats.Counts["relationships"])
	assert.EqualValues(t, 1, stats.Counts["community_reports"])
	assert.NotContains(t, stats.Counts, "communities")

	// Page markers parsed, source file derived from the linked document.
	var tu TextUnit
	require.NoError(t, db.Where("id = ?", "tu-1").First(&tu).Error)
	require.NotNil(t, tu.PageStart)
	assert.Equal(t, 1, *tu.PageStart)
	assert.Equal(t, "report.pdf", tu.SourceFile)
	assert.Equal(t, []string{"doc-1"}, tu.DocumentIDs)

	var plain TextUnit
	require.NoError(t, db.Where("id = ?", "tu-2").First(&plain).Error)
	assert.Nil(t, plain.PageStart)

	// Entity name falls back to the title column.
	var ent Entity
	require.NoError(t, db.Where("id = ?", "ent-1").First(&ent).Error)
	assert.Equal(t, "ACME", ent.Name)
}

func TestImportCollectionTwiceKeepsRowsSeparate(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "create_final_entities.parquet", []entityParquetRow{
		{ID: "ent-1", Name: "ACME", Type: "organization"},
	})

	db := testDB(t)
	im := NewImporter(db, nil)

	first, err := im.ImportCollection(dir, "first")
	require.NoError(t, err)
	second, err := im.ImportCollection(dir, "second")
	require.NoError(t, err)
	assert.NotEqual(t, first.CollectionID, second.CollectionID)

	var count int64
	require.NoError(t, db.Model(&Entity{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestImportCollectionMissingDir(t *testing.T) {
	db := testDB(t)
	im := NewImporter(db, nil)

	_, err := im.ImportCollection(filepath.Join(t.TempDir(), "nope"), "ghost")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestImportCollectionEmptyDir(t *testing.T) {
	db := testDB(t)
	im := NewImporter(db, nil)

	stats, err := im.ImportCollection(t.TempDir(), "empty")
	require.NoError(t, err)
	assert.Empty(t, stats.Counts)
	assert.NotZero(t, stats.CollectionID)
}

func TestImportStoredPDFPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pdfs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pdfs", "report.pdf"), []byte("%PDF-1.4"), 0o644))
	writeArtifact(t, dir, "create_final_documents.parquet", []documentRow{
		{ID: "doc-1", Title: "report.txt", Source: "report.txt"},
	})

	db := testDB(t)
	im := NewImporter(db, nil)
	_, err := im.ImportCollection(dir, "with pdfs")
	require.NoError(t, err)

	var doc Document
	require.NoError(t, db.Where("id = ?", "doc-1").First(&doc).Error)
	assert.Equal(t, "report.pdf", doc.OriginalFilename)
	assert.Equal(t, filepath.Join(dir, "pdfs", "report.pdf"), doc.PDFPath)
}

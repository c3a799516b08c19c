package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/logger"
)

var pageMarkerRe = regexp.MustCompile(`<!-- PAGE (\d+) -->`)

// ExtractPageNumbers returns the lowest and highest page marker found in
// text, or nils when the text carries no markers.
func ExtractPageNumbers(text string) (start, end *int) {
	matches := pageMarkerRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	lo, hi := 0, 0
	for i, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if i == 0 || n < lo {
			lo = n
		}
		if i == 0 || n > hi {
			hi = n
		}
	}
	return &lo, &hi
}

// ImportStats reports what one import run loaded.
type ImportStats struct {
	CollectionID uint
	Counts       map[string]int64
}

// Importer loads a completed job's graph artifacts into the relational
// store so downstream query services do not have to parse parquet.
// Embedding vectors are left in the artifacts; only structure is imported.
type Importer struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImporter(db *gorm.DB, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Default()
	}
	return &Importer{db: db, log: log.WithField(logger.FieldComponent, "artifacts")}
}

// ImportCollection reads the parquet artifacts under dir into a freshly
// created collection. Missing artifacts are skipped; rows already present
// keep their first-imported values.
func (im *Importer) ImportCollection(dir, name string) (*ImportStats, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: artifact dir %s: %v", domain.ErrInvalidInput, dir, err)
	}

	collection := &Collection{Name: name}
	if err := im.db.Create(collection).Error; err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	log := im.log.WithField("collection", collection.ID)
	log.WithField("name", name).Info("Created collection")

	stats := &ImportStats{CollectionID: collection.ID, Counts: map[string]int64{}}

	docNames, err := im.importDocuments(dir, collection.ID, stats)
	if err != nil {
		return nil, err
	}
	if err := im.importTextUnits(dir, collection.ID, docNames, stats); err != nil {
		return nil, err
	}
	if err := im.importEntities(dir, collection.ID, stats); err != nil {
		return nil, err
	}
	if err := im.importNodes(dir, collection.ID, stats); err != nil {
		return nil, err
	}
	if err := im.importRelationships(dir, collection.ID, stats); err != nil {
		return nil, err
	}
	if err := im.importCommunities(dir, collection.ID, stats); err != nil {
		return nil, err
	}
	if err := im.importCommunityReports(dir, collection.ID, stats); err != nil {
		return nil, err
	}

	log.WithField("counts", stats.Counts).Info("Import complete")
	return stats, nil
}

type documentRow struct {
	ID         string `parquet:"id"`
	Title      string `parquet:"title,optional"`
	Source     string `parquet:"source,optional"`
	RawContent string `parquet:"raw_content,optional"`
}

type textUnitRow struct {
	ID          string   `parquet:"id"`
	Text        string   `parquet:"text,optional"`
	NTokens     int64    `parquet:"n_tokens,optional"`
	DocumentIDs []string `parquet:"document_ids,list,optional"`
	SourceFile  string   `parquet:"source_file,optional"`
}

type entityParquetRow struct {
	ID          string   `parquet:"id"`
	Name        string   `parquet:"name,optional"`
	Title       string   `parquet:"title,optional"`
	Type        string   `parquet:"type,optional"`
	Description string   `parquet:"description,optional"`
	TextUnitIDs []string `parquet:"text_unit_ids,list,optional"`
}

type nodeRow struct {
	ID        string `parquet:"id"`
	Community *int64 `parquet:"community,optional"`
	Level     int64  `parquet:"level,optional"`
	Degree    int64  `parquet:"degree,optional"`
}

type relationshipRow struct {
	ID          string   `parquet:"id"`
	Source      string   `parquet:"source,optional"`
	Target      string   `parquet:"target,optional"`
	Description string   `parquet:"description,optional"`
	Weight      float64  `parquet:"weight,optional"`
	TextUnitIDs []string `parquet:"text_unit_ids,list,optional"`
}

type communityRow struct {
	ID        string `parquet:"id"`
	Community int64  `parquet:"community,optional"`
	Level     int64  `parquet:"level,optional"`
	Title     string `parquet:"title,optional"`
}

type reportRow struct {
	ID          string  `parquet:"id"`
	Community   int64   `parquet:"community,optional"`
	Level       int64   `parquet:"level,optional"`
	Title       string  `parquet:"title,optional"`
	Summary     string  `parquet:"summary,optional"`
	FullContent string  `parquet:"full_content,optional"`
	Rank        float64 `parquet:"rank,optional"`
}

// readArtifact reads every row of the named parquet artifact, tolerating a
// missing file (nil rows, no error).
func readArtifact[T any](im *Importer, dir, filename string) ([]T, error) {
	path := filepath.Join(dir, filename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			im.log.WithField("artifact", filename).Warn("Artifact not found, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}
	rows, err := parquet.Read[T](f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return rows, nil
}

func (im *Importer) insert(records interface{}, table string, count int64, stats *ImportStats) error {
	if count == 0 {
		return nil
	}
	err := im.db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, 200).Error
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	stats.Counts[table] = count
	return nil
}

// importDocuments returns a doc-id to original-filename map used to stamp
// text units with their source file.
func (im *Importer) importDocuments(dir string, collectionID uint, stats *ImportStats) (map[string]string, error) {
	rows, err := readArtifact[documentRow](im, dir, "create_final_documents.parquet")
	if err != nil || len(rows) == 0 {
		return map[string]string{}, err
	}

	pdfStorage := filepath.Join(dir, "pdfs")
	docNames := make(map[string]string, len(rows))
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		textName := row.Source
		if textName == "" {
			textName = row.Title
		}

		var originalFilename, pdfPath string
		if textName != "" {
			base := strings.TrimSuffix(filepath.Base(textName), filepath.Ext(textName))
			originalFilename = base + ".pdf"
			stored := filepath.Join(pdfStorage, originalFilename)
			if _, err := os.Stat(stored); err == nil {
				pdfPath = stored
			}
		}

		docNames[row.ID] = originalFilename
		docs = append(docs, Document{
			ID:               row.ID,
			CollectionID:     collectionID,
			Title:            row.Title,
			Source:           row.Source,
			OriginalFilename: originalFilename,
			PDFPath:          pdfPath,
			RawContent:       row.RawContent,
		})
	}
	return docNames, im.insert(&docs, "documents", int64(len(docs)), stats)
}

func (im *Importer) importTextUnits(dir string, collectionID uint, docNames map[string]string, stats *ImportStats) error {
	rows, err := readArtifact[textUnitRow](im, dir, "create_final_text_units.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	units := make([]TextUnit, 0, len(rows))
	for _, row := range rows {
		start, end := ExtractPageNumbers(row.Text)

		sourceFile := row.SourceFile
		if sourceFile == "" && len(row.DocumentIDs) > 0 {
			sourceFile = docNames[row.DocumentIDs[0]]
		}

		units = append(units, TextUnit{
			ID:           row.ID,
			CollectionID: collectionID,
			DocumentIDs:  row.DocumentIDs,
			Text:         row.Text,
			NTokens:      row.NTokens,
			PageStart:    start,
			PageEnd:      end,
			SourceFile:   sourceFile,
		})
	}
	return im.insert(&units, "text_units", int64(len(units)), stats)
}

func (im *Importer) importEntities(dir string, collectionID uint, stats *ImportStats) error {
	rows, err := readArtifact[entityParquetRow](im, dir, "create_final_entities.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	entities := make([]Entity, 0, len(rows))
	for _, row := range rows {
		// Column name varies across engine versions.
		name := row.Name
		if name == "" {
			name = row.Title
		}
		entities = append(entities, Entity{
			ID:           row.ID,
			CollectionID: collectionID,
			Name:         name,
			Type:         row.Type,
			Description:  row.Description,
			TextUnitIDs:  row.TextUnitIDs,
		})
	}
	return im.insert(&entities, "entities", int64(len(entities)), stats)
}

func (im *Importer) importNodes(dir string, collectionID uint, stats *ImportStats) error {
	rows, err := readArtifact[nodeRow](im, dir, "create_final_nodes.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, Node{
			ID:           row.ID,
			CollectionID: collectionID,
			Community:    row.Community,
			Level:        row.Level,
			Degree:       row.Degree,
		})
	}
	return im.insert(&nodes, "nodes", int64(len(nodes)), stats)
}

func (im *Importer) importRelationships(dir string, collectionID uint, stats *ImportStats) error {
	rows, err := readArtifact[relationshipRow](im, dir, "create_final_relationships.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	rels := make([]Relationship, 0, len(rows))
	for _, row := range rows {
		rels = append(rels, Relationship{
			ID:           row.ID,
			CollectionID: collectionID,
			Source:       row.Source,
			Target:       row.Target,
			Description:  row.Description,
			Weight:       row.Weight,
			TextUnitIDs:  row.TextUnitIDs,
		})
	}
	return im.insert(&rels, "relationships", int64(len(rels)), stats)
}

func (im *Importer) importCommunities(dir string, collectionID uint, stats *ImportStats) error {
	rows, err := readArtifact[communityRow](im, dir, "create_final_communities.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	communities := make([]Community, 0, len(rows))
	for _, row := range rows {
		communities = append(communities, Community{
			ID:           row.ID,
			CollectionID: collectionID,
			Community:    row.Community,
			Level:        row.Level,
			Title:        row.Title,
		})
	}
	return im.insert(&communities, "communities", int64(len(communities)), stats)
}

func (im *Importer) importCommunityReports(dir string, collectionID uint, stats *ImportStats) error {
	rows, err := readArtifact[reportRow](im, dir, "create_final_community_reports.parquet")
	if err != nil || len(rows) == 0 {
		return err
	}

	reports := make([]CommunityReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, CommunityReport{
			ID:           row.ID,
			CollectionID: collectionID,
			Community:    row.Community,
			Level:        row.Level,
			Title:        row.Title,
			Summary:      row.Summary,
			FullContent:  row.FullContent,
			Rank:         row.Rank,
		})
	}
	return im.insert(&reports, "community_reports", int64(len(reports)), stats)
}

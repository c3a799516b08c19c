package artifacts

import "time"

// Relational views of the graph-index artifacts. Identifiers are the
// engine's own row ids, scoped per collection so the same corpus can be
// imported more than once; embedding vectors stay in the parquet files.

type Collection struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID               string `gorm:"primaryKey" json:"id"`
	CollectionID     uint   `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Title            string `json:"title"`
	Source           string `json:"source"`
	OriginalFilename string `json:"original_filename"`
	PDFPath          string `json:"pdf_path"`
	RawContent       string `json:"raw_content"`
}

type TextUnit struct {
	ID           string   `gorm:"primaryKey" json:"id"`
	CollectionID uint     `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	DocumentIDs  []string `gorm:"serializer:json" json:"document_ids"`
	Text         string   `json:"text"`
	NTokens      int64    `json:"n_tokens"`
	PageStart    *int     `json:"page_start"`
	PageEnd      *int     `json:"page_end"`
	SourceFile   string   `json:"source_file"`
}

type Entity struct {
	ID           string   `gorm:"primaryKey" json:"id"`
	CollectionID uint     `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Name         string   `gorm:"index" json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	TextUnitIDs  []string `gorm:"serializer:json" json:"text_unit_ids"`
}

// Node carries the graph placement of an entity: which community it belongs
// to at which hierarchy level.
type Node struct {
	ID           string `gorm:"primaryKey" json:"id"`
	CollectionID uint   `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Community    *int64 `json:"community"`
	Level        int64  `json:"level"`
	Degree       int64  `json:"degree"`
}

type Relationship struct {
	ID           string   `gorm:"primaryKey" json:"id"`
	CollectionID uint     `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Description  string   `json:"description"`
	Weight       float64  `json:"weight"`
	TextUnitIDs  []string `gorm:"serializer:json" json:"text_unit_ids"`
}

type Community struct {
	ID           string `gorm:"primaryKey" json:"id"`
	CollectionID uint   `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Community    int64  `json:"community"`
	Level        int64  `json:"level"`
	Title        string `json:"title"`
}

type CommunityReport struct {
	ID           string  `gorm:"primaryKey" json:"id"`
	CollectionID uint    `gorm:"primaryKey;autoIncrement:false" json:"collection_id"`
	Community    int64   `json:"community"`
	Level        int64   `json:"level"`
	Title        string  `json:"title"`
	Summary      string  `json:"summary"`
	FullContent  string  `json:"full_content"`
	Rank         float64 `json:"rank"`
}

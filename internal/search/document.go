package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"asset-indexer/internal/catalogue"
)

// DocType is the document type of catalogued entries.
const DocType = "file"

// Index field names.
const (
	FieldType           = "type"
	FieldHashPath       = "hashPath"
	FieldStorage        = "storage"
	FieldName           = "name"
	FieldParentPath     = "parentPath"
	FieldParentHashPath = "parentHashPath"
	FieldBaseName       = "baseName"
	FieldDirectory      = "directory"
	FieldHidden         = "hidden"
	FieldLink           = "link"
	FieldSpecial        = "special"
	FieldModifiedAt     = "modifiedAt"
	FieldLength         = "length"
)

// storedFields are returned with every hit.
var storedFields = []string{FieldHashPath, FieldStorage, FieldName, FieldParentPath}

// Document is the indexed view of one catalogue entry. It is rebuilt from
// the catalogue and never read back as a source of truth.
type Document struct {
	Type           string   `json:"type"`
	HashPath       string   `json:"hashPath"`
	Storage        string   `json:"storage"`
	Name           string   `json:"name"`
	ParentPath     string   `json:"parentPath"`
	ParentHashPath string   `json:"parentHashPath"`
	BaseName       []string `json:"baseName"`
	Directory      bool     `json:"directory"`
	Hidden         bool     `json:"hidden"`
	Link           bool     `json:"link"`
	Special        bool     `json:"special"`
	ModifiedAt     float64  `json:"modifiedAt"`
	Length         float64  `json:"length"`
}

// BleveType routes documents to the file mapping.
func (d Document) BleveType() string {
	return d.Type
}

// NewDocument converts a catalogue record. Modification time is indexed as
// unix milliseconds.
func NewDocument(r catalogue.FileRecord) Document {
	name := r.Name()
	return Document{
		Type:           DocType,
		HashPath:       r.HashPath,
		Storage:        r.Storage,
		Name:           name,
		ParentPath:     r.ParentPath(),
		ParentHashPath: r.ParentHashPath,
		BaseName:       Normalize(name),
		Directory:      r.Directory,
		Hidden:         r.Hidden,
		Link:           r.Link,
		Special:        r.Special,
		ModifiedAt:     float64(r.ModifiedAt.UnixMilli()),
		Length:         float64(r.Length),
	}
}

func keywordField(store bool) *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	fm.Store = store
	fm.IncludeInAll = false
	fm.IncludeTermVectors = false
	return fm
}

func numericField() *mapping.FieldMapping {
	fm := bleve.NewNumericFieldMapping()
	fm.Store = false
	fm.IncludeInAll = false
	return fm
}

func boolField() *mapping.FieldMapping {
	fm := bleve.NewBooleanFieldMapping()
	fm.Store = false
	fm.IncludeInAll = false
	return fm
}

// NewIndexMapping builds the mapping shared by every realm index. All text
// fields are indexed verbatim; tokenization happens in Normalize.
func NewIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(FieldType, keywordField(false))
	doc.AddFieldMappingsAt(FieldHashPath, keywordField(true))
	doc.AddFieldMappingsAt(FieldStorage, keywordField(true))
	doc.AddFieldMappingsAt(FieldName, keywordField(true))
	doc.AddFieldMappingsAt(FieldParentPath, keywordField(true))
	doc.AddFieldMappingsAt(FieldParentHashPath, keywordField(false))
	doc.AddFieldMappingsAt(FieldBaseName, keywordField(false))
	doc.AddFieldMappingsAt(FieldDirectory, boolField())
	doc.AddFieldMappingsAt(FieldHidden, boolField())
	doc.AddFieldMappingsAt(FieldLink, boolField())
	doc.AddFieldMappingsAt(FieldSpecial, boolField())
	doc.AddFieldMappingsAt(FieldModifiedAt, numericField())
	doc.AddFieldMappingsAt(FieldLength, numericField())

	im := bleve.NewIndexMapping()
	im.AddDocumentMapping(DocType, doc)
	im.DefaultAnalyzer = keyword.Name
	im.DefaultMapping.Dynamic = false
	return im
}

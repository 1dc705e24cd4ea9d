package sqlite

// Schema DDL. Every collection shares the documents table; seq keeps
// insertion order.
const (
	createDocuments = `CREATE TABLE documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    doc TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);`

	idxDocumentsSeq = `CREATE INDEX idx_documents_seq ON documents(collection, seq);`
)

var schemaDDL = []string{
	createDocuments,
	idxDocumentsSeq,
}

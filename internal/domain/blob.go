package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Stat(ctx context.Context, path string) (BlobInfo, error)
}

// Statement is a point-in-time export of one product's ledger.
// It is stored as JSONL: one header line followed by one line per entry.
type Statement struct {
	Product    ProductSnapshot `json:"product"`
	Block      uint64          `json:"block"`
	Time       time.Time       `json:"time"`
	Entries    []LedgerLine    `json:"-"`
	EntryCount int             `json:"entries"`
	Path       string          `json:"path,omitempty"`
	// Checksum is the keccak256 of the entry lines as written.
	Checksum common.Hash `json:"checksum"`
}

// Archiver writes ledger statements to cold storage.
type Archiver interface {
	ArchiveStatement(ctx context.Context, st Statement) (string, error)
	ListStatements(ctx context.Context, product common.Address) ([]BlobInfo, error)
	ReadStatement(ctx context.Context, path string) (Statement, error)
}

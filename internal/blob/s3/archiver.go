package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// StatementArchiver implements domain.Archiver. Statements are written as
// JSONL to statements/<product>/<block>.jsonl and recorded in the audit log.
type StatementArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     domain.AuditStore
	multipart int64
}

// NewArchiver creates a StatementArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *StatementArchiver {
	return &StatementArchiver{
		writer:    writer,
		reader:    reader,
		audit:     audit,
		multipart: minPartSize,
	}
}

// ArchiveStatement uploads st and returns the object path. Files larger than
// one multipart part go through the multipart uploader. A block's ledger never
// changes, so a statement already stored for the block is left as is.
func (a *StatementArchiver) ArchiveStatement(ctx context.Context, st domain.Statement) (string, error) {
	path := statementPath(st.Product.Address, st.Block)
	switch _, err := a.reader.Stat(ctx, path); {
	case err == nil:
		return path, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("s3blob: check statement: %w", err)
	}

	buf, checksum, err := encodeStatement(st)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode statement: %w", err)
	}

	if int64(len(buf)) > a.multipart {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.multipart)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload statement: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.statement", map[string]any{
			"path":     path,
			"product":  st.Product.Address.Hex(),
			"block":    st.Block,
			"entries":  len(st.Entries),
			"checksum": checksum.Hex(),
		}); err != nil {
			return path, fmt.Errorf("s3blob: statement audit log: %w", err)
		}
	}
	return path, nil
}

// ListStatements returns the statements stored for product, oldest block
// first.
func (a *StatementArchiver) ListStatements(ctx context.Context, product common.Address) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, statementPrefix(product))
	if err != nil {
		return nil, fmt.Errorf("s3blob: list statements: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return blockOf(infos[i].Path) < blockOf(infos[j].Path)
	})
	return infos, nil
}

// ReadStatement downloads and decodes the statement at path, verifying its
// checksum.
func (a *StatementArchiver) ReadStatement(ctx context.Context, path string) (domain.Statement, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.Statement{}, err
	}
	defer body.Close()

	st, err := decodeStatement(body)
	if err != nil {
		return domain.Statement{}, fmt.Errorf("s3blob: read statement %s: %w", path, err)
	}
	st.Path = path
	return st, nil
}

// statementPath builds the object key of a statement:
//
//	statements/0xabc.../000000000042.jsonl
//
// The zero padding keeps lexical and block order aligned.
func statementPath(product common.Address, block uint64) string {
	return fmt.Sprintf("%s%012d.jsonl", statementPrefix(product), block)
}

func statementPrefix(product common.Address) string {
	return "statements/" + strings.ToLower(product.Hex()) + "/"
}

func blockOf(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// encodeStatement renders the header line and one line per entry. The
// checksum covers the entry lines only so the header can carry it.
func encodeStatement(st domain.Statement) ([]byte, common.Hash, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	for i, line := range st.Entries {
		if err := enc.Encode(line); err != nil {
			return nil, common.Hash{}, fmt.Errorf("jsonl encode entry %d: %w", i, err)
		}
	}
	checksum := ethcrypto.Keccak256Hash(body.Bytes())

	st.EntryCount = len(st.Entries)
	st.Checksum = checksum
	st.Path = ""

	var out bytes.Buffer
	henc := json.NewEncoder(&out)
	henc.SetEscapeHTML(false)
	if err := henc.Encode(st); err != nil {
		return nil, common.Hash{}, fmt.Errorf("jsonl encode header: %w", err)
	}
	out.Write(body.Bytes())
	return out.Bytes(), checksum, nil
}

var errChecksumMismatch = errors.New("checksum mismatch")

func decodeStatement(r io.Reader) (domain.Statement, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var st domain.Statement
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return st, err
		}
		return st, errors.New("empty statement")
	}
	if err := json.Unmarshal(sc.Bytes(), &st); err != nil {
		return st, fmt.Errorf("decode header: %w", err)
	}

	var body bytes.Buffer
	for sc.Scan() {
		raw := sc.Bytes()
		body.Write(raw)
		body.WriteByte('\n')

		var line domain.LedgerLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return st, fmt.Errorf("decode entry %d: %w", len(st.Entries), err)
		}
		st.Entries = append(st.Entries, line)
	}
	if err := sc.Err(); err != nil {
		return st, err
	}

	if len(st.Entries) != st.EntryCount {
		return st, fmt.Errorf("header lists %d entries, found %d", st.EntryCount, len(st.Entries))
	}
	if got := ethcrypto.Keccak256Hash(body.Bytes()); got != st.Checksum {
		return st, fmt.Errorf("%w: header %s, body %s", errChecksumMismatch, st.Checksum.Hex(), got.Hex())
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*StatementArchiver)(nil)

package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path > out[j].Path })
	return out, nil
}

func (m *memBlobs) Stat(_ context.Context, path string) (domain.BlobInfo, error) {
	b, ok := m.objects[path]
	if !ok {
		return domain.BlobInfo{}, fmt.Errorf("stat %s: %w", path, domain.ErrNotFound)
	}
	return domain.BlobInfo{Path: path, Size: int64(len(b))}, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var productAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func sampleStatement(block uint64) domain.Statement {
	alice := domain.ZeroUserInfo()
	alice.Principal = big.NewInt(10_000)
	alice.Coupon = big.NewInt(50)
	bob := domain.ZeroUserInfo()
	bob.OptionPayout = big.NewInt(7)
	bob.IsIssuanceRollover = true

	return domain.Statement{
		Product: domain.ProductSnapshot{
			Address:        productAddr,
			Name:           "BTC Bullish Spread 01",
			Status:         domain.PhaseMature,
			MaxCapacity:    big.NewInt(1000),
			CapacityLimit:  big.NewInt(1_000_000_000),
			TotalPrincipal: big.NewInt(10_000),
			Custody:        big.NewInt(10_057),
		},
		Block: block,
		Time:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Entries: []domain.LedgerLine{
			{Investor: common.HexToAddress("0x01"), UserInfo: alice},
			{Investor: common.HexToAddress("0x02"), UserInfo: bob},
		},
	}
}

func TestArchiveAndReadStatement(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit)
	ctx := context.Background()

	path, err := a.ArchiveStatement(ctx, sampleStatement(42))
	require.NoError(t, err)
	assert.Equal(t, "statements/0x00000000000000000000000000000000000000aa/000000000042.jsonl", path)
	assert.Equal(t, []string{"archive.statement"}, audit.events)
	assert.Equal(t, 3, bytes.Count(blobs.objects[path], []byte("\n")))

	st, err := a.ReadStatement(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, st.Path)
	assert.Equal(t, uint64(42), st.Block)
	assert.Equal(t, 2, st.EntryCount)
	assert.Equal(t, domain.PhaseMature, st.Product.Status)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, "10000", st.Entries[0].Principal.String())
	assert.Equal(t, "50", st.Entries[0].Coupon.String())
	assert.True(t, st.Entries[1].IsIssuanceRollover)
	assert.Equal(t, "7", st.Entries[1].OptionPayout.String())
}

func TestArchiveStatement_SameBlockIsStoredOnce(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit)
	ctx := context.Background()

	first, err := a.ArchiveStatement(ctx, sampleStatement(5))
	require.NoError(t, err)
	stored := blobs.objects[first]

	again := sampleStatement(5)
	again.Entries = again.Entries[:1]
	second, err := a.ArchiveStatement(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, stored, blobs.objects[first])
	assert.Len(t, audit.events, 1)
}

func TestReadStatement_DetectsTampering(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	ctx := context.Background()

	path, err := a.ArchiveStatement(ctx, sampleStatement(7))
	require.NoError(t, err)
	blobs.objects[path] = bytes.Replace(blobs.objects[path], []byte(`"principal":10000`), []byte(`"principal":90000`), 1)

	_, err = a.ReadStatement(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errChecksumMismatch)

	_, err = a.ReadStatement(ctx, "statements/missing.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListStatements_BlockOrder(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	ctx := context.Background()

	for _, b := range []uint64{120, 9, 33} {
		_, err := a.ArchiveStatement(ctx, sampleStatement(b))
		require.NoError(t, err)
	}
	blobs.objects["statements/0x00000000000000000000000000000000000000bb/000000000001.jsonl"] = []byte("{}")

	infos, err := a.ListStatements(ctx, productAddr)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.True(t, strings.HasSuffix(infos[0].Path, "000000000009.jsonl"))
	assert.True(t, strings.HasSuffix(infos[2].Path, "000000000120.jsonl"))
}

func TestArchiveStatement_LargeUsesMultipart(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	a.multipart = 64

	_, err := a.ArchiveStatement(context.Background(), sampleStatement(1))
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("head: %w", statusErr(404))))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("timeout")))
	assert.ErrorIs(t, wrapErr("get", "k", statusErr(404)), domain.ErrNotFound)
}

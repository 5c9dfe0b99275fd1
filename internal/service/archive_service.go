package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// ArchiveService writes ledger statements to cold storage. A statement is
// captured at the block of every Mature event and uploaded in the
// background; operators can also archive a product on demand.
type ArchiveService struct {
	ledger   *LedgerService
	archiver domain.Archiver
	queue    chan domain.Statement
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService with a bounded upload queue.
func NewArchiveService(ledger *LedgerService, archiver domain.Archiver, queueSize int, logger *slog.Logger) *ArchiveService {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ArchiveService{
		ledger:   ledger,
		archiver: archiver,
		queue:    make(chan domain.Statement, queueSize),
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// Attach captures a statement whenever a product matures.
func (a *ArchiveService) Attach() {
	a.ledger.OnCommit(a.capture)
}

// capture runs as a commit hook under the runtime lock, so the statement
// reflects the state of the maturing block. It never fails the call.
func (a *ArchiveService) capture(ctx context.Context, r *chain.Receipt) error {
	if a.ledger.Replaying() {
		return nil
	}
	for _, e := range r.Events {
		if e.Kind != domain.EventMature {
			continue
		}
		st, ok := a.ledger.statementLocked(e.Contract, r.Block, r.Time)
		if !ok {
			continue
		}
		select {
		case a.queue <- st:
		default:
			a.logger.WarnContext(ctx, "archive queue full, statement dropped",
				slog.String("product", e.Contract.Hex()),
				slog.Uint64("block", r.Block),
			)
		}
	}
	return nil
}

// Run uploads queued statements until ctx is cancelled.
func (a *ArchiveService) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archive service started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-a.queue:
			if _, err := a.upload(ctx, st); err != nil {
				a.logger.ErrorContext(ctx, "statement upload failed",
					slog.String("product", st.Product.Address.Hex()),
					slog.Uint64("block", st.Block),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ArchiveNow captures and uploads the current statement of product.
func (a *ArchiveService) ArchiveNow(ctx context.Context, product common.Address) (string, error) {
	st, err := a.ledger.Statement(product)
	if err != nil {
		return "", err
	}
	return a.upload(ctx, st)
}

// List returns the archived statements of product, oldest first.
func (a *ArchiveService) List(ctx context.Context, product common.Address) ([]domain.BlobInfo, error) {
	infos, err := a.archiver.ListStatements(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("archive_service: list: %w", err)
	}
	return infos, nil
}

// Read loads an archived statement and verifies its checksum.
func (a *ArchiveService) Read(ctx context.Context, path string) (domain.Statement, error) {
	st, err := a.archiver.ReadStatement(ctx, path)
	if err != nil {
		return st, fmt.Errorf("archive_service: read %s: %w", path, err)
	}
	return st, nil
}

func (a *ArchiveService) upload(ctx context.Context, st domain.Statement) (string, error) {
	path, err := a.archiver.ArchiveStatement(ctx, st)
	if err != nil {
		return "", fmt.Errorf("archive_service: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "statement archived",
		slog.String("path", path),
		slog.String("product", st.Product.Address.Hex()),
		slog.Uint64("block", st.Block),
		slog.Int("entries", st.EntryCount),
	)
	return path, nil
}

// Pending returns the number of statements waiting for upload.
func (a *ArchiveService) Pending() int { return len(a.queue) }

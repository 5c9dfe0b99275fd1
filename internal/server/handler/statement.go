package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// StatementService defines the archive operations the statement handler
// requires.
type StatementService interface {
	ArchiveNow(ctx context.Context, product common.Address) (string, error)
	List(ctx context.Context, product common.Address) ([]domain.BlobInfo, error)
	Read(ctx context.Context, path string) (domain.Statement, error)
}

// StatementHandler serves archived ledger statements. A nil service means
// no archive is configured; every endpoint then answers 503.
type StatementHandler struct {
	statements StatementService
	logger     *slog.Logger
}

// NewStatementHandler creates a StatementHandler. statements may be nil.
func NewStatementHandler(statements StatementService, logger *slog.Logger) *StatementHandler {
	return &StatementHandler{statements: statements, logger: logger}
}

func (h *StatementHandler) available(w http.ResponseWriter) bool {
	if h.statements == nil {
		writeError(w, http.StatusServiceUnavailable, "statement archive not configured")
		return false
	}
	return true
}

type listStatementsResponse struct {
	Statements []domain.BlobInfo `json:"statements"`
}

// ListStatements returns a product's archived statements, oldest first.
// GET /api/products/{addr}/statements
func (h *StatementHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	infos, err := h.statements.List(r.Context(), addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, listStatementsResponse{Statements: infos})
}

// ArchiveStatement archives a product's current ledger.
// POST /api/products/{addr}/statements
func (h *StatementHandler) ArchiveStatement(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := h.statements.ArchiveNow(r.Context(), addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

type statementResponse struct {
	domain.Statement
	Lines []domain.LedgerLine `json:"lines"`
}

// GetStatement reads one archived statement, verifying its checksum.
// GET /api/statements/{path...}
func (h *StatementHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	path := r.PathValue("path")
	if !strings.HasPrefix(path, "statements/") {
		path = "statements/" + path
	}
	st, err := h.statements.Read(r.Context(), path)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	lines := st.Entries
	if lines == nil {
		lines = []domain.LedgerLine{}
	}
	writeJSON(w, http.StatusOK, statementResponse{Statement: st, Lines: lines})
}

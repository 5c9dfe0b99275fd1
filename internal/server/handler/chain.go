package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/service"
)

// maxCallBody bounds a submitted call envelope.
const maxCallBody = 1 << 20

// LedgerService defines the write side and the account queries the chain
// handler requires.
type LedgerService interface {
	Submit(ctx context.Context, call domain.Call) (*chain.Receipt, error)
	Info() service.ChainInfo
	Nonce(caller common.Address) uint64
	Balance(token, owner common.Address) (service.Balance, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ChainHandler serves call submission and account endpoints.
type ChainHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(ledger LedgerService, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{ledger: ledger, logger: logger}
}

// GetInfo returns the genesis addresses, chain id and method table.
// GET /api/chain
func (h *ChainHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Info())
}

type receiptResponse struct {
	Block  uint64         `json:"block"`
	Time   time.Time      `json:"time"`
	Events []domain.Event `json:"events"`
}

// SubmitCall executes a signed call envelope.
// POST /api/calls
func (h *ChainHandler) SubmitCall(w http.ResponseWriter, r *http.Request) {
	var call domain.Call
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBody)).Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := h.ledger.Submit(r.Context(), call)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	events := receipt.Events
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, receiptResponse{Block: receipt.Block, Time: receipt.Time, Events: events})
}

type nonceResponse struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
	Next    uint64         `json:"next"`
}

// GetNonce returns the last accepted nonce of an account and the next one to
// sign with.
// GET /api/accounts/{addr}/nonce
func (h *ChainHandler) GetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := h.ledger.Nonce(addr)
	writeJSON(w, http.StatusOK, nonceResponse{Account: addr, Nonce: n, Next: n + 1})
}

// GetBalance returns a token balance.
// GET /api/tokens/{addr}/balances/{owner}
func (h *ChainHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	token, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.ledger.Balance(token, owner)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns the audit trail, newest first.
// GET /api/audit?limit=50&offset=0
func (h *ChainHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/service"
)

// ProductService defines the read side the product handler requires.
type ProductService interface {
	Products() []domain.ProductSnapshot
	Product(addr common.Address) (domain.ProductSnapshot, error)
	UserInfo(addr, investor common.Address) (service.UserView, error)
	Ledger(addr common.Address) ([]domain.LedgerLine, error)
	Events(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
}

// ProductHandler serves product queries.
type ProductHandler struct {
	products ProductService
	logger   *slog.Logger
}

// NewProductHandler creates a ProductHandler.
func NewProductHandler(products ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger}
}

type listProductsResponse struct {
	Products []domain.ProductSnapshot `json:"products"`
}

// ListProducts returns every product in creation order.
// GET /api/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.products.Products()
	if products == nil {
		products = []domain.ProductSnapshot{}
	}
	writeJSON(w, http.StatusOK, listProductsResponse{Products: products})
}

// GetProduct returns one product snapshot.
// GET /api/products/{addr}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.products.Product(addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetUser returns an investor's ledger entry. Unknown investors read as zero.
// GET /api/products/{addr}/users/{user}
func (h *ProductHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := pathAddress(r, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.products.UserInfo(addr, user)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type ledgerResponse struct {
	Product common.Address      `json:"product"`
	Entries []domain.LedgerLine `json:"entries"`
}

// GetLedger returns every non-empty ledger entry of a product.
// GET /api/products/{addr}/ledger
func (h *ProductHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines, err := h.products.Ledger(addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if lines == nil {
		lines = []domain.LedgerLine{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Product: addr, Entries: lines})
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents returns a product's events, oldest first.
// GET /api/products/{addr}/events?kind=Deposit&fromBlock=10&limit=50&offset=0
func (h *ProductHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Contract = &addr
	h.writeEvents(w, r, f)
}

// ListAllEvents returns events of every contract.
// GET /api/events?kind=Transfer&fromBlock=1
func (h *ProductHandler) ListAllEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeEvents(w, r, f)
}

func (h *ProductHandler) writeEvents(w http.ResponseWriter, r *http.Request, f domain.EventFilter) {
	events, err := h.products.Events(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

func parseEventFilter(r *http.Request) (domain.EventFilter, error) {
	opts := parseListOpts(r)
	f := domain.EventFilter{
		Kind:   domain.EventKind(r.URL.Query().Get("kind")),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if v := r.URL.Query().Get("fromBlock"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, err
		}
		f.FromBlock = n
	}
	return f, nil
}

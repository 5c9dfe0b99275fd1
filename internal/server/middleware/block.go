package middleware

import (
	"net/http"
	"strconv"
)

// BlockHeader reports the ledger height a response was served at.
const BlockHeader = "X-Ledger-Block"

// LedgerBlock stamps BlockHeader with block() before the handler runs, so
// reads can be correlated with the event stream.
func LedgerBlock(block func() uint64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(BlockHeader, strconv.FormatUint(block(), 10))
			next.ServeHTTP(w, r)
		})
	}
}

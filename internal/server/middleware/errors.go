// Package middleware holds the HTTP middleware chain of the ledger API.
package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends the same {"error","kind"} body the handlers use.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}

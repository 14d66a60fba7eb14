package middleware

import (
	"encoding/json"
	"net/http"
)

// Machine-readable codes for rejections raised before a handler runs.
const (
	codeUnauthorized = "unauthorized"
	codeRateLimited  = "rate_limited"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Code: code})
}

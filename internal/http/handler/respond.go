package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ezywork/internal/auth"
)

var errForbidden = errors.New("forbidden")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into v. An empty body leaves v zero, which
// lets token-authenticated callers omit ids the token already carries.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// actor resolves who is calling. With auth enabled the token subject wins
// and a different claimed id is refused; without it the claimed id is
// trusted.
func actor(r *http.Request, claimed string) (string, error) {
	sub, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		return claimed, nil
	}
	if claimed != "" && claimed != sub {
		return "", errForbidden
	}
	return sub, nil
}

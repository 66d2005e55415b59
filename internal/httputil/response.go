// Package httputil holds the JSON response and query parsing helpers shared
// by the debug handlers.
package httputil

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
)

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// AllowMethods writes a 405 response unless r uses one of methods.
// It reports whether the request may proceed.
func AllowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// QueryInt parses the named query parameter. A missing parameter yields def;
// a value outside [min, max] or not an integer is an error.
func QueryInt(r *http.Request, name string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, v)
	}
	return v, nil
}

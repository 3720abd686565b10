package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"docstore/internal/config"
	"docstore/internal/domain"
)

// ParseJSON decodes JSON from the request body into dest. Bodies larger
// than config.MaxRequestBodyBytes are rejected.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body: %w", err)
		}
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}

// QueryBool reads a true/false query parameter. Absent means false.
func QueryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.NewValidationError(key, "expected true or false, got %q", v)
	}
	return b, nil
}

// QueryInt reads an integer query parameter, returning def when absent.
func QueryInt(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(key, "expected a non-negative integer, got %q", v)
	}
	return n, nil
}

// QueryJSON decodes a JSON encoded query parameter such as
// open_revs=["1-a","2-b"]. It reports whether the parameter was present.
func QueryJSON(r *http.Request, key string, dest any) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(v), dest); err != nil {
		return true, domain.NewValidationError(key, "invalid JSON: %v", err)
	}
	return true, nil
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Mapping pairs a domain error with the status it is reported as.
type Mapping struct {
	Target error
	Status int
	Title  string
}

// RespondError maps domain errors to HTTP responses using RFC7807. The first
// matching mapping wins; anything else is an opaque 500.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			Problem(w, m.Status, m.Title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

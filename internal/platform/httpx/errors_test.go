package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func TestRespondErrorUsesFirstMatch(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("load: %w", errMissing),
		Mapping{Target: errMissing, Status: http.StatusNotFound, Title: "Not Found"},
		Mapping{Target: errMissing, Status: http.StatusConflict, Title: "Conflict"},
	)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "Not Found", body.Title)
	require.Equal(t, "load: missing", body.Detail)
}

func TestRespondErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("db password leaked"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
}

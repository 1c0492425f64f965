package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("submission s1: %w", ErrNotFound), http.StatusNotFound},
		{ErrSignatureExpired, http.StatusUnauthorized},
		{ErrSignatureInvalid, http.StatusUnauthorized},
		{ErrBodyUnreadable, http.StatusBadRequest},
		{ErrNotParticipating, http.StatusForbidden},
		{ErrCdkLimitReached, http.StatusBadRequest},
		{ErrCdkExhausted, http.StatusBadRequest},
		{ErrCdkNotConfigured, http.StatusBadRequest},
		{fmt.Errorf("claim: %w", ErrCdkConflict), http.StatusConflict},
		{&pgconn.PgError{Code: "23505"}, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatusFromError(c.err); got != c.want {
			t.Errorf("HTTPStatusFromError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestRespondWithDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithDomainError(rec, fmt.Errorf("claim c1: %w", ErrCdkExhausted))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.StatusCode != 400 || body.Code != "exhausted" || body.Message != "no CDK codes available" {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = httptest.NewRecorder()
	RespondWithDomainError(rec, errors.New("pq: connection reset"))
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.StatusCode != 500 || body.Message != ErrInternalServer.Error() {
		t.Fatalf("internal error leaked: %+v", body)
	}
}

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("step: %w", ErrTransientIndexing), http.StatusServiceUnavailable},
		{fmt.Errorf("sphinx: %w", ErrBackendUnavailable), http.StatusServiceUnavailable},
		{ErrMalformedResponse, http.StatusBadGateway},
		{ErrBuildInProgress, http.StatusConflict},
		{ErrUnsupported, http.StatusBadRequest},
		{fmt.Errorf("message 7: %w", ErrNotFound), http.StatusNotFound},
		{ErrUnauthorized, http.StatusUnauthorized},
		{New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad sort"), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("insert: %w", ErrTransientIndexing)))
	assert.False(t, Retryable(ErrBackendUnavailable))
}

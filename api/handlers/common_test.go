package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hitlflow/types"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]int{"n": 1})

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
		retryable  bool
	}{
		{"explicit status wins", types.NewThreadExistsError("t"), http.StatusConflict, types.ErrThreadExists, false},
		{"mapped from code", types.NewError(types.ErrInvalidVerdict, "bad"), http.StatusBadRequest, types.ErrInvalidVerdict, false},
		{"wrapped types error", fmt.Errorf("ctx: %w", types.NewThreadNotFoundError("t")), http.StatusNotFound, types.ErrThreadNotFound, false},
		{"store unavailable", types.NewStoreUnavailableError(errors.New("down")), http.StatusServiceUnavailable, types.ErrStoreUnavailable, true},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, types.ErrTimeout, true},
		{"plain error", errors.New("secret detail"), http.StatusInternalServerError, types.ErrInternalError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err, zaptest.NewLogger(t))

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("dsn=postgres://admin:pw@db"), nil)
	assert.NotContains(t, w.Body.String(), "admin:pw")
}

func TestHTTPStatusFor(t *testing.T) {
	cases := map[types.ErrorCode]int{
		types.ErrInvalidRequest:        http.StatusBadRequest,
		types.ErrUnauthorized:          http.StatusUnauthorized,
		types.ErrForbidden:             http.StatusForbidden,
		types.ErrThreadNotFound:        http.StatusNotFound,
		types.ErrConcurrentInvocation:  http.StatusConflict,
		types.ErrNoPendingInterrupt:    http.StatusConflict,
		types.ErrUnknownTool:           http.StatusUnprocessableEntity,
		types.ErrRateLimited:           http.StatusTooManyRequests,
		types.ErrInvalidClassification: http.StatusBadGateway,
		types.ErrPortFailure:           http.StatusBadGateway,
		types.ErrStoreUnavailable:      http.StatusServiceUnavailable,
		types.ErrTimeout:               http.StatusGatewayTimeout,
		types.ErrMemoryRevision:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFor(code), code)
	}
}

func TestDecodeJSONBody_TooLarge(t *testing.T) {
	big := make([]byte, maxBodyBytes+16)
	for i := range big {
		big[i] = ' '
	}
	copy(big, `{"request":`)
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big))
	w := httptest.NewRecorder()

	var dst struct {
		Request json.RawMessage `json:"request"`
	}
	err := DecodeJSONBody(w, r, &dst)
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.HTTPStatus)
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, int64(5), rw.BytesWritten)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

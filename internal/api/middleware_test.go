package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &RelayApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.errorHandler(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &RelayApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.errorHandler(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	valid, err := createJwtForSession(1, testSigningKey, time.Hour)
	require.NoError(t, err)

	tcases := []struct {
		name       string
		setup      func(r *http.Request)
		statusCode int
		logged     string
	}{
		{
			name: "valid cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: valid})
			},
			statusCode: http.StatusOK,
		},
		{
			name: "valid bearer token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+valid)
			},
			statusCode: http.StatusOK,
		},
		{
			name:       "missing token",
			setup:      func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "invalid token",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "invalid-token"})
			},
			statusCode: http.StatusUnauthorized,
			logged:     "failed to extract user id from token",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, nil)
			buf := &bytes.Buffer{}
			app.log.SetOutput(buf)

			var gotUserId int
			next := func(w http.ResponseWriter, r *http.Request) {
				gotUserId, _ = UserId(r.Context())
				w.WriteHeader(http.StatusOK)
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()

			app.authMiddleware(next)(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, 1, gotUserId)
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			}
			if tc.logged != "" {
				assert.Contains(t, buf.String(), tc.logged)
			}
		})
	}
}

func Test_requestLogger(t *testing.T) {
	existing := uuid.NewString()

	tcases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generates an id", incoming: ""},
		{name: "keeps a valid incoming id", incoming: existing, keep: true},
		{name: "replaces a malformed id", incoming: "not-a-uuid"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &RelayApp{log: testutil.TestLogger(t)}
			buf := &bytes.Buffer{}
			app.log.SetOutput(buf)

			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestId(r.Context())
				w.WriteHeader(http.StatusTeapot)
			})

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIdHeader, tc.incoming)
			}
			rr := httptest.NewRecorder()

			app.requestLogger(next).ServeHTTP(rr, req)

			id := rr.Header().Get(requestIdHeader)
			assert.Equal(t, id, seen, "expected the handler to see the response id")
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
			if tc.keep {
				assert.Equal(t, tc.incoming, id)
			} else {
				assert.NotEqual(t, tc.incoming, id)
			}
			assert.Contains(t, buf.String(), id+" GET /healthz 418")
		})
	}
}

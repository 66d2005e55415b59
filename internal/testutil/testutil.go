// Package testutil provides shared helpers for tests of the HTTP debug
// surface.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalHostRequest returns a request from a loopback address, which the
// /debug/ handlers require.
func LocalHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status code = %d, want %d (body %q)", w.Code, want, w.Body.String())
	}
}

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

// HTTPTestHelper provides utilities for HTTP testing
type HTTPTestHelper struct {
	Handler http.Handler
	Token   string
}

// NewHTTPTestHelper creates a new HTTP test helper. A non-empty token is
// sent as a bearer Authorization header on every request.
func NewHTTPTestHelper(handler http.Handler, token string) *HTTPTestHelper {
	return &HTTPTestHelper{Handler: handler, Token: token}
}

// MakeRequest creates and executes an HTTP request, returning the response
func (h *HTTPTestHelper) MakeRequest(method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.MakeRequestWithHeaders(method, path, body, nil)
}

// MakeRequestWithHeaders creates and executes an HTTP request with custom headers
func (h *HTTPTestHelper) MakeRequestWithHeaders(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = []byte(b)
	default:
		var err error
		reqBody, err = json.Marshal(b)
		if err != nil {
			panic(err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(reqBody))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rr := httptest.NewRecorder()
	h.Handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON parses a recorded response body into target.
func DecodeJSON(rr *httptest.ResponseRecorder, target interface{}) error {
	return json.NewDecoder(rr.Body).Decode(target)
}

package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func noContent() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRouterRateLimitsRepeatedClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	handler := newTestHandler(cfg, &fakeAnswerService{})

	codes := make([]int, 0, 2)
	for range 2 {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
		codes = append(codes, res.Code)
		if res.Code == http.StatusTooManyRequests && res.Header().Get("Retry-After") != "1" {
			t.Fatalf("expected Retry-After of 1s at 1 rps, got %q", res.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %v", codes)
	}
}

func TestRateLimitKeysByClientAddress(t *testing.T) {
	var limited []string
	handler := rateLimit(1, 1, func(r *http.Request) { limited = append(limited, r.RemoteAddr) })(noContent())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234", "10.0.0.1:5678"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if len(limited) != 1 || limited[0] != "10.0.0.1:5678" {
		t.Fatalf("expected only the second call from 10.0.0.1 to be limited, got %v", limited)
	}
}

func TestDisabledMiddlewaresAreSkipped(t *testing.T) {
	if rateLimit(0, 5, nil) != nil || shedLoad(0, time.Second, nil) != nil || requireBearer("") != nil {
		t.Fatalf("zero configuration must disable the middleware")
	}
	res := httptest.NewRecorder()
	chain(noContent(), nil, nil).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected chain of nils to reach the handler, got %d", res.Code)
	}
}

func TestShedLoadRejectsWhenSlotsAreBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan int, 1)
	shed := 0

	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := shedLoad(1, 20*time.Millisecond, func(*http.Request) { shed++ })(slow)

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/answer", nil))
		firstDone <- res.Code
	}()
	<-started

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/answer", nil))
	if res.Code != http.StatusServiceUnavailable || shed != 1 {
		t.Fatalf("expected one shed 503, got %d (shed=%d)", res.Code, shed)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected JSON overload message, got %q (%v)", res.Body.String(), err)
	}

	close(release)
	select {
	case code := <-firstDone:
		if code != http.StatusNoContent {
			t.Fatalf("admitted request expected 204, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("admitted request did not finish")
	}
}

func TestBearerAuthCoversOnlyAPIRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.APIBearerToken = "secret"
	handler := newTestHandler(cfg, &fakeAnswerService{})

	cases := []struct {
		path, auth string
		want       int
	}{
		{"/healthz", "", http.StatusOK},
		{"/v1/models", "", http.StatusUnauthorized},
		{"/v1/models", "Bearer wrong", http.StatusUnauthorized},
		{"/v1/models", "Basic secret", http.StatusUnauthorized},
		{"/v1/models", "Bearer secret", http.StatusOK},
		{"/v1/models", "bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != tc.want {
			t.Fatalf("%s with %q: expected %d, got %d", tc.path, tc.auth, tc.want, res.Code)
		}
	}
}

func TestRequestIDEchoedOrGenerated(t *testing.T) {
	handler := newTestHandler(testConfig(), &fakeAnswerService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, string(make([]byte, maxRequestIDLen+1)))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got == "" || len(got) > maxRequestIDLen {
		t.Fatalf("expected a generated request id, got %q", got)
	}
}

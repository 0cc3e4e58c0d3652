package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/flexproc/flexproc/internal/kernel"
)

func TestConfigDumpHandler_Get(t *testing.T) {
	k := kernel.NewKernel()
	handler := configDumpHandler(k)

	req := httptest.NewRequest(http.MethodGet, "/config_dump", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %q", got)
	}

	var dump ConfigDumpResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &dump); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if dump.Routes.TotalRoutes != 0 {
		t.Errorf("Expected empty route table, got %d", dump.Routes.TotalRoutes)
	}
}

func TestConfigDumpHandler_MethodNotAllowed(t *testing.T) {
	handler := configDumpHandler(kernel.NewKernel())

	req := httptest.NewRequest(http.MethodPost, "/config_dump", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestIPAllowlistMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		allowed    []string
		expected   int
	}{
		{"remote addr allowed", "127.0.0.1:54321", nil, []string{"127.0.0.1"}, http.StatusOK},
		{"remote addr blocked", "10.1.2.3:54321", nil, []string{"127.0.0.1"}, http.StatusForbidden},
		{
			"first forwarded ip wins",
			"127.0.0.1:54321",
			map[string]string{"X-Forwarded-For": "10.1.2.3, 127.0.0.1"},
			[]string{"127.0.0.1"},
			http.StatusForbidden,
		},
		{
			"x-real-ip allowed",
			"10.1.2.3:54321",
			map[string]string{"X-Real-IP": "192.168.1.5"},
			[]string{"192.168.1.5"},
			http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/config_dump", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			ipAllowlistMiddleware(tt.allowed, next).ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"host port split", "192.168.1.10:8080", nil, "192.168.1.10"},
		{"no port", "192.168.1.10", nil, "192.168.1.10"},
		{"forwarded list", "1.1.1.1:1", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 3.3.3.3"}, "2.2.2.2"},
		{"real ip", "1.1.1.1:1", map[string]string{"X-Real-IP": " 4.4.4.4 "}, "4.4.4.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req); got != tt.expected {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConfigDumpHandler_RedactsKeyMaterial(t *testing.T) {
	k := kernel.NewKernel()
	registerSigningRoute(t, k, "signed-route")

	req := httptest.NewRequest(http.MethodGet, "/config_dump", nil)
	rec := httptest.NewRecorder()
	configDumpHandler(k).ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "PRIVATE KEY") || strings.Contains(body, "privateKey") {
		t.Error("Config dump leaked private key material")
	}
	if !strings.Contains(body, "signed-route") {
		t.Error("Expected the route to appear in the dump")
	}
}

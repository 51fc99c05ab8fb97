package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "tinysched/pkg/logx"
)

func TestCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  Config
		want error
	}{
		{Config{}, nil},
		{Config{Addr: "localhost:0"}, nil},
		{Config{Addr: "[::1]:6060"}, nil},
		{Config{Addr: ":6060"}, ErrInsecureBind},
		{Config{Addr: "0.0.0.0:6060", Token: "s3cret"}, nil},
		{Config{Addr: "0.0.0.0:6060", AllowInsecure: true}, nil},
	}
	for _, tt := range tests {
		if err := Check(tt.cfg); !errors.Is(err, tt.want) {
			t.Fatalf("Check(%+v) = %v, want %v", tt.cfg, err, tt.want)
		}
	}
	if err := Check(Config{Addr: "nope"}); err == nil {
		t.Fatal("Check accepted an address without a port")
	}
}

func TestStatusRequiresToken(t *testing.T) {
	t.Parallel()
	status := func(context.Context) (any, error) { return map[string]int{"tasks": 3}, nil }
	srv := httptest.NewServer(New(Config{Token: "s3cret"}, status, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["tasks"] != 3 {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	status := func(context.Context) (any, error) { return nil, errors.New("loop not running") }
	srv := httptest.NewServer(New(Config{}, status, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

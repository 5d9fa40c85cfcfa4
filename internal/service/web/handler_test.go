package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaydir/internal/favorites"
	"relaydir/internal/shared/types"
	"relaydir/registry"
)

type stubFetcher struct {
	mu  sync.Mutex
	raw string
	err error
}

func (f *stubFetcher) FetchRaw(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw, f.err
}

func (f *stubFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

var stubBlob = strings.Repeat("QUJDRA==", 32)

func stubFeed(scores ...int) string {
	lines := []string{"*preamble", "#header"}
	for i, score := range scores {
		lines = append(lines, fmt.Sprintf(
			"relay%d.example.net,203.0.113.%d,%d,10,1000,Japan,JP,1,3600,10,999,2weeks,op,msg,%s",
			i+1, i+1, score, stubBlob,
		))
	}
	return strings.Join(lines, "\n")
}

func newTestMux(t *testing.T, fetcher registry.Fetcher, webUser, webPassword string) *http.ServeMux {
	t.Helper()
	cache := registry.NewCache(fetcher, time.Hour)
	favStore := favorites.NewStore(filepath.Join(t.TempDir(), "favorites.txt"))
	if err := favStore.Load(); err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(cache, favStore)

	cfg := &types.Config{}
	cfg.WebConf.WebUser = webUser
	cfg.WebConf.WebPassword = webPassword
	return NewMux(cfg, handler, nil)
}

func doGet(mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleServers_EnvelopeAndIdempotence(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(500, 9000000, 12)}, "", "")

	first := doGet(mux, "/api/servers?limit=2&offset=0&sortBy=score")
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", first.Code, first.Body.String())
	}

	var resp ServerListResponse
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || resp.Total != 3 || !resp.HasMore {
		t.Errorf("envelope: count=%d total=%d hasMore=%v", resp.Count, resp.Total, resp.HasMore)
	}
	if resp.Servers[0].QualityScore != 9000000 || resp.Servers[1].QualityScore != 500 {
		t.Errorf("sort order: %d, %d", resp.Servers[0].QualityScore, resp.Servers[1].QualityScore)
	}
	if resp.Cache.Hit {
		t.Error("first call must be a cache miss")
	}
	if resp.Limit != 2 || resp.Offset != 0 {
		t.Errorf("echoed pagination: limit=%d offset=%d", resp.Limit, resp.Offset)
	}

	second := doGet(mux, "/api/servers?limit=2&offset=0&sortBy=score")
	var resp2 ServerListResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp2); err != nil {
		t.Fatal(err)
	}
	if !resp2.Cache.Hit {
		t.Error("second identical call within TTL must be a hit")
	}

	// Identical page content apart from the cache diagnostics.
	resp.Cache = registry.Meta{}
	resp2.Cache = registry.Meta{}
	b1, _ := json.Marshal(resp)
	b2, _ := json.Marshal(resp2)
	if string(b1) != string(b2) {
		t.Errorf("pages differ between identical calls:\n%s\n%s", b1, b2)
	}
}

func TestHandleServers_DefaultsAndDegradedParams(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(1, 2, 3)}, "", "")

	rec := doGet(mux, "/api/servers?limit=-5&offset=-1&sortBy=bogus")
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded params must not fail, status = %d", rec.Code)
	}
	var resp ServerListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Limit != 50 || resp.Offset != 0 {
		t.Errorf("limit=%d offset=%d, want defaults 50/0", resp.Limit, resp.Offset)
	}
	if resp.Servers[0].QualityScore != 3 {
		t.Error("unknown sortBy must degrade to score descending")
	}
}

func TestHandleServers_ColdStartFailure(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{err: errors.New("connection refused")}, "", "")

	rec := doGet(mux, "/api/servers")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "registry_unavailable" || resp.Details == "" {
		t.Errorf("error envelope: %+v", resp)
	}
}

func TestHandleServers_StaleFallback(t *testing.T) {
	fetcher := &stubFetcher{raw: stubFeed(100)}
	mux := newTestMux(t, fetcher, "", "")

	if rec := doGet(mux, "/api/servers"); rec.Code != http.StatusOK {
		t.Fatalf("priming fetch failed: %d", rec.Code)
	}

	fetcher.fail(errors.New("connection refused"))

	// forceRefresh bypasses the TTL check, fails upstream, and must still
	// answer with the previous data set.
	rec := doGet(mux, "/api/servers?forceRefresh=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("stale fallback must answer 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ServerListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Servers) != 1 {
		t.Errorf("stale fallback must return the prior set, got total=%d", resp.Total)
	}
	if !resp.Cache.Stale {
		t.Error("fallback response must be marked stale")
	}
}

func TestHandleProfileExport(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(1)}, "", "")

	t.Run("missing payload", func(t *testing.T) {
		rec := doGet(mux, "/api/profile/export")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		rec := doGet(mux, "/api/profile/export?payload=%21%21%21")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("valid payload", func(t *testing.T) {
		profile := "client\ndev tun\nremote relay1.example.net 443\n"
		payload := base64.StdEncoding.EncodeToString([]byte(profile))
		target := "/api/profile/export?payload=" + url.QueryEscape(payload) + "&filename=relay1.ovpn"

		rec := doGet(mux, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/x-openvpn-profile" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="relay1.ovpn"` {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if rec.Body.String() != profile {
			t.Errorf("decoded body = %q, want %q", rec.Body.String(), profile)
		}
	})

	t.Run("filename sanitized", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte("x"))
		target := "/api/profile/export?payload=" + url.QueryEscape(payload) + "&filename=" + url.QueryEscape("../../etc/evil")

		rec := doGet(mux, target)
		if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="evil"` {
			t.Errorf("Content-Disposition = %q", cd)
		}
	})
}

func TestHandleFavorites(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(1)}, "", "")

	req := httptest.NewRequest(http.MethodPost, "/api/favorites/relay1.example.net", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("add favorite: status = %d", rec.Code)
	}

	list := doGet(mux, "/api/favorites")
	var resp map[string][]string
	if err := json.Unmarshal(list.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp["favorites"]) != 1 || resp["favorites"][0] != "relay1.example.net" {
		t.Errorf("favorites = %v", resp["favorites"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/favorites/relay1.example.net", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove favorite: status = %d", rec.Code)
	}

	list = doGet(mux, "/api/favorites")
	if err := json.Unmarshal(list.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp["favorites"]) != 0 {
		t.Errorf("favorites after delete = %v", resp["favorites"])
	}
}

func TestBasicAuth(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(1)}, "admin", "secret")

	// Protected endpoint without credentials.
	if rec := doGet(mux, "/api/servers"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /api/servers: status = %d, want 401", rec.Code)
	}

	// With credentials.
	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated /api/servers: status = %d", rec.Code)
	}

	// Status stays public.
	if rec := doGet(mux, "/api/status"); rec.Code != http.StatusOK {
		t.Errorf("/api/status must be public, status = %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	mux := newTestMux(t, &stubFetcher{raw: stubFeed(1, 2)}, "", "")

	// Status before any fetch reports an empty cache and must not ingest.
	rec := doGet(mux, "/api/status")
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.CachedServers != 0 {
		t.Errorf("cached_servers = %d before first fetch", status.CachedServers)
	}

	doGet(mux, "/api/servers")

	rec = doGet(mux, "/api/status")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.CachedServers != 2 {
		t.Errorf("cached_servers = %d after fetch, want 2", status.CachedServers)
	}
}

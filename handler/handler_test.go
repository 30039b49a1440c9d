package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/collapsinghierarchy/rewardgate/handler"
	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
	"github.com/collapsinghierarchy/rewardgate/service"
	"github.com/collapsinghierarchy/rewardgate/session"
	"github.com/collapsinghierarchy/rewardgate/store"
)

type fakeStore struct {
	count    int
	countErr error
	secrets  map[string]bool
	rolls    map[string]bool
	lookups  int
	inserts  int
}

func newFakeStore(count int, passcodes ...string) *fakeStore {
	h, _ := digest.New(digest.SHA256)
	fs := &fakeStore{count: count, secrets: map[string]bool{}, rolls: map[string]bool{}}
	for _, p := range passcodes {
		sum, _ := h.Sum(p)
		fs.secrets[sum] = true
	}
	return fs
}

func (f *fakeStore) CountClaims(ctx context.Context) (int, error) {
	return f.count, f.countErr
}
func (f *fakeStore) SecretExists(ctx context.Context, hash string) (bool, error) {
	f.lookups++
	return f.secrets[hash], nil
}
func (f *fakeStore) InsertClaim(ctx context.Context, c *model.Claim) error {
	f.inserts++
	if f.rolls[c.Roll] {
		return store.ErrConflict
	}
	f.rolls[c.Roll] = true
	f.count++
	return nil
}

type client struct {
	t    *testing.T
	url  string
	http *http.Client
}

func newServer(t *testing.T, fs *fakeStore) *client {
	t.Helper()
	return newServerWithRegistry(t, fs, session.NewRegistry(clockwork.NewRealClock(), time.Hour, 0))
}

func newServerWithRegistry(t *testing.T, fs *fakeStore, reg *session.Registry) *client {
	t.Helper()
	svc := service.New(fs, service.DefaultLimit)
	h := handler.New(svc, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", h.CreateSession)
	mux.HandleFunc("GET /api/v1/session", h.Session)
	mux.HandleFunc("POST /api/v1/passcode", h.Passcode)
	mux.HandleFunc("POST /api/v1/claim", h.Claim)
	mux.HandleFunc("GET /api/v1/pool", h.Pool)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &client{t: t, url: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body any) (int, session.View) {
	c.t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, c.url+path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var v session.View
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&v)
	}
	return resp.StatusCode, v
}

// -------------------------------------------------------------------------
func TestCreateSession_SetsCookieAndLocked(t *testing.T) {
	c := newServer(t, newFakeStore(10))
	status, v := c.do(http.MethodPost, "/api/v1/session", nil)
	if status != http.StatusOK {
		t.Fatalf("status: got %d", status)
	}
	if v.State != session.Locked {
		t.Errorf("state: got %s want LOCKED", v.State)
	}
	u, _ := http.NewRequest(http.MethodGet, c.url, nil)
	found := false
	for _, ck := range c.http.Jar.Cookies(u.URL) {
		if ck.Name == handler.CookieName {
			found = true
		}
	}
	if !found {
		t.Error("session cookie not set")
	}
}

func TestCreateSession_FullPool(t *testing.T) {
	c := newServer(t, newFakeStore(50))
	_, v := c.do(http.MethodPost, "/api/v1/session", nil)
	if v.State != session.Exhausted {
		t.Errorf("state: got %s want EXHAUSTED", v.State)
	}
}

func TestFullFlow(t *testing.T) {
	fs := newFakeStore(10, "letmein")
	c := newServer(t, fs)
	c.do(http.MethodPost, "/api/v1/session", nil)

	status, v := c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "nope"})
	if status != http.StatusOK || v.State != session.Locked || v.Error != "ACCESS DENIED: INVALID PASSCODE" || !v.ClearPasscode {
		t.Fatalf("wrong passcode: status %d view %+v", status, v)
	}

	_, v = c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "letmein"})
	if v.State != session.Unlocked || v.Error != "" {
		t.Fatalf("right passcode: view %+v", v)
	}

	_, v = c.do(http.MethodPost, "/api/v1/claim", model.ClaimForm{Name: "", Roll: "X1", Email: "a@b.c"})
	if v.State != session.Unlocked || v.Error != "MISSING REQUIRED FIELDS" {
		t.Fatalf("blank name: view %+v", v)
	}
	if fs.inserts != 0 {
		t.Fatal("insert attempted for invalid form")
	}

	_, v = c.do(http.MethodPost, "/api/v1/claim", model.ClaimForm{Name: "Ada", Roll: "X1", Email: "a@b.c"})
	if v.State != session.Success || v.Rank != 11 || v.Name != "Ada" {
		t.Fatalf("claim: view %+v", v)
	}

	status, v = c.do(http.MethodGet, "/api/v1/session", nil)
	if status != http.StatusOK || v.State != session.Success {
		t.Fatalf("session after success: status %d view %+v", status, v)
	}
}

func TestClaimConflict(t *testing.T) {
	fs := newFakeStore(10, "letmein")
	fs.rolls["X1"] = true
	c := newServer(t, fs)
	c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "letmein"})

	status, v := c.do(http.MethodPost, "/api/v1/claim", model.ClaimForm{Name: "Ada", Roll: "X1", Email: "a@b.c"})
	if status != http.StatusOK {
		t.Fatalf("status: got %d", status)
	}
	if v.State != session.Unlocked || !strings.Contains(v.Error, "X1") {
		t.Fatalf("conflict: view %+v", v)
	}
	if v.Form.Roll != "X1" {
		t.Errorf("form not preserved: %+v", v.Form)
	}
}

func TestClaimWhileLocked(t *testing.T) {
	fs := newFakeStore(10, "letmein")
	c := newServer(t, fs)
	status, v := c.do(http.MethodPost, "/api/v1/claim", model.ClaimForm{Name: "Ada", Roll: "X1", Email: "a@b.c"})
	if status != http.StatusConflict {
		t.Fatalf("status: got %d want 409", status)
	}
	if v.State != session.Locked || v.Error != "ACTION NOT AVAILABLE" {
		t.Errorf("view %+v", v)
	}
	if fs.inserts != 0 {
		t.Error("insert attempted while locked")
	}
}

func TestPasscode_InvalidJSON(t *testing.T) {
	c := newServer(t, newFakeStore(10, "letmein"))
	status, _ := c.do(http.MethodPost, "/api/v1/passcode", "notjson")
	if status != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", status)
	}
}

func TestPasscode_FullPoolNoLookup(t *testing.T) {
	fs := newFakeStore(50, "letmein")
	c := newServer(t, fs)
	_, v := c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "letmein"})
	if v.State != session.Exhausted {
		t.Fatalf("state: got %s want EXHAUSTED", v.State)
	}
	if fs.lookups != 0 {
		t.Errorf("lookups: got %d want 0", fs.lookups)
	}
}

func TestPool(t *testing.T) {
	c := newServer(t, newFakeStore(47))
	resp, err := c.http.Get(c.url + "/api/v1/pool")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var p service.Pool
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Claimed != 47 || p.Remaining != 3 || p.Exhausted {
		t.Errorf("pool: %+v", p)
	}
}

func TestPool_CountUnknown(t *testing.T) {
	fs := newFakeStore(0)
	fs.countErr = store.Transient("count claims", context.DeadlineExceeded)
	c := newServer(t, fs)
	resp, err := c.http.Get(c.url + "/api/v1/pool")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", resp.StatusCode)
	}
}

func TestUnknownCookieStartsNewSession(t *testing.T) {
	fs := newFakeStore(10, "letmein")
	c := newServer(t, fs)
	req, _ := http.NewRequest(http.MethodGet, c.url+"/api/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: handler.CookieName, Value: "not-a-uuid"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v session.View
	_ = json.NewDecoder(resp.Body).Decode(&v)
	if v.State != session.Locked {
		t.Errorf("state: got %s want LOCKED", v.State)
	}
	var fresh bool
	for _, ck := range resp.Cookies() {
		if ck.Name == handler.CookieName && ck.Value != "not-a-uuid" {
			fresh = true
		}
	}
	if !fresh {
		t.Error("expected a replacement session cookie")
	}
}

func TestSessionCap(t *testing.T) {
	fs := newFakeStore(10, "letmein")
	reg := session.NewRegistry(clockwork.NewRealClock(), time.Hour, 1)
	c := newServerWithRegistry(t, fs, reg)

	if status, _ := c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "nope"}); status != http.StatusOK {
		t.Fatalf("first visitor: got %d", status)
	}

	// a cookieless client cannot mint sessions past the cap
	for i := 0; i < 5; i++ {
		resp, err := http.Post(c.url+"/api/v1/passcode", "application/json", strings.NewReader(`{"passcode":"nope"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d: got %d want 503", i, resp.StatusCode)
		}
	}
	if reg.Len() != 1 {
		t.Errorf("registry grew to %d", reg.Len())
	}

	// the existing visitor keeps working
	if status, v := c.do(http.MethodPost, "/api/v1/passcode", map[string]string{"passcode": "letmein"}); status != http.StatusOK || v.State != session.Unlocked {
		t.Errorf("existing session: status %d view %+v", status, v)
	}
}

package likeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeRegion(t *testing.T) {
	cases := map[string]string{
		"bd": "ag", "Bangladesh": "ag", "AG": "ag",
		"ind": "ind", "INDIA": "ind",
		"br": "nx", "brazil": "nx", "us": "nx", "USA": "nx", "nx": "nx",
		"xx": "ag", "": "ag",
	}
	for in, want := range cases {
		if got := NormalizeRegion(in); got != want {
			t.Fatalf("NormalizeRegion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidRegionAndUID(t *testing.T) {
	for _, r := range []string{"bd", "IND", "br", "us", "ag", "NX"} {
		if !ValidRegion(r) {
			t.Fatalf("expected %q valid", r)
		}
	}
	for _, r := range []string{"INDIA", "USA", "eu", ""} {
		if ValidRegion(r) {
			t.Fatalf("expected %q invalid", r)
		}
	}
	if !ValidUID("5914395123") || ValidUID("59a4") || ValidUID("") || ValidUID("123456789012345678901") {
		t.Fatal("unexpected uid validation")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		body string
		kind Kind
		code int
	}{
		{`{"status":1,"player":{"nickname":"Ace","uid":5914395123,"level":"60"},"likes":{"before":100,"after":200,"added_by_api":100}}`, KindSuccess, 1},
		{`{"status":2,"player":{"nickname":"Ace"},"likes":{"before":200}}`, KindAlreadySatisfied, 2},
		{`{"status":3}`, KindNotFound, 3},
		{`{"status":"7"}`, KindUnknown, 7},
		{`{}`, KindUnknown, 0},
		{`not json`, KindConnectionFailed, 0},
	}
	for _, tc := range cases {
		out := Classify([]byte(tc.body))
		if out.Kind != tc.kind || out.Code != tc.code {
			t.Fatalf("Classify(%s) = %s/%d, want %s/%d", tc.body, out.Kind, out.Code, tc.kind, tc.code)
		}
	}
	out := Classify([]byte(cases[0].body))
	if out.Details.Nickname != "Ace" || out.Details.UID != "5914395123" || out.Details.Level != 60 || out.Details.Added != 100 || out.Details.After != 200 {
		t.Fatalf("unexpected details %+v", out.Details)
	}
	if !out.Consumes() || Classify([]byte(`{"status":2}`)).Consumes() {
		t.Fatal("only success should consume quota")
	}
	if Classify([]byte(`{"status":3}`)).Details.Nickname != "Unknown" {
		t.Fatal("expected placeholder nickname")
	}
}

func TestSendLikeBuildsRequest(t *testing.T) {
	var gotPath, gotUID, gotRegion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUID = r.URL.Query().Get("uid")
		gotRegion = r.URL.Query().Get("region")
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":1,"player":{"nickname":"Ace"},"likes":{"before":1,"after":2,"added_by_api":1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second, 0)
	out := c.SendLike(context.Background(), "5914395123", "bd")
	if out.Kind != KindSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if gotPath != "/like" || gotUID != "5914395123" || gotRegion != "ag" || gotKey != "secret" {
		t.Fatalf("unexpected request path=%s uid=%s region=%s key=%s", gotPath, gotUID, gotRegion, gotKey)
	}
}

func TestSendLikeNon200IsConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	out := NewClient(srv.URL, "k", time.Second, 0).SendLike(context.Background(), "1", "ind")
	if out.Kind != KindConnectionFailed || out.Code != http.StatusBadGateway {
		t.Fatalf("expected connection failure, got %+v", out)
	}
}

func TestSendLikeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":2}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k", time.Second, 1)
	c.Retry.Delay = time.Millisecond
	out := c.SendLike(context.Background(), "1", "us")
	if out.Kind != KindAlreadySatisfied || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry then already-satisfied, got %+v after %d calls", out, calls)
	}
}

func TestSendLikeTimeoutIsConnectionFailed(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	out := NewClient(srv.URL, "k", 50*time.Millisecond, 0).SendLike(context.Background(), "1", "bd")
	if out.Kind != KindConnectionFailed || out.Err == nil {
		t.Fatalf("expected timeout to be a connection failure, got %+v", out)
	}
}

func TestSendLikeUnreachable(t *testing.T) {
	out := NewClient("http://127.0.0.1:1", "k", 200*time.Millisecond, 0).SendLike(context.Background(), "1", "bd")
	if out.Kind != KindConnectionFailed {
		t.Fatalf("expected connection failure, got %+v", out)
	}
}

package coresupervisor

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestClampIntervalBounds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{1 * time.Second, 5 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{10 * time.Minute, 300 * time.Second},
	}
	for _, c := range cases {
		if got := clampInterval(c.in); got != c.want {
			t.Errorf("clampInterval(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFetchPageCountCountsOnlyPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"type":"page"},
			{"type":"page"},
			{"type":"background_page"},
			{"type":"service_worker"}
		]`))
	}))
	defer srv.Close()

	port, err := strconv.Atoi(srv.URL[len("http://127.0.0.1:"):])
	if err != nil {
		t.Skipf("could not parse test server port from %q: %v", srv.URL, err)
	}

	if got := fetchPageCount(port); got != 2 {
		t.Errorf("fetchPageCount() = %d, want 2", got)
	}
}

func TestFetchPageCountUnreachablePortReturnsZero(t *testing.T) {
	if got := fetchPageCount(1); got != 0 {
		t.Errorf("fetchPageCount(unreachable) = %d, want 0", got)
	}
}

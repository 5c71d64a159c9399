package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"feeoracle/internal/config"
	"feeoracle/internal/session"
)

func testSession() *session.Session {
	return &session.Session{
		Lifetime: time.Hour,
		Rand:     rand.New(rand.NewSource(1)),
	}
}

func testFetcher(url string) *Fetcher {
	return &Fetcher{
		Config: config.SourceConfig{
			URL:        url,
			ElementID:  "price-value",
			Timeout:    5 * time.Second,
			MaxRetries: 3,
			// Zero delays keep the tests fast; the pacing path is covered
			// separately.
			RetryDelay:    0,
			MinHumanDelay: 0,
			MaxHumanDelay: 0,
		},
		Session: testSession(),
	}
}

func indexPage(text string) string {
	return fmt.Sprintf(`<html><body><table><tr><td id="price-value">%s</td></tr></table></body></html>`, text)
}

func TestFetchOnce_ParsesFormattedNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage(" 1,754.30 "))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	sig, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if sig.Value != 1754.30 {
		t.Fatalf("value=%g want 1754.30", sig.Value)
	}
	if sig.Text != "1,754.30" {
		t.Fatalf("text=%q want trimmed original", sig.Text)
	}
}

func TestFetchOnce_DecompressesGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Errorf("accept-encoding=%q does not advertise gzip", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, indexPage("1,754.30"))
		gz.Close()
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	sig, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if sig.Value != 1754.30 {
		t.Fatalf("value=%g want 1754.30", sig.Value)
	}
}

func TestFetchOnce_SendsIdentityHeaders(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		fmt.Fprint(w, indexPage("1500"))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	id := f.Session.Acquire()
	if _, err := f.FetchOnce(context.Background(), id); err != nil {
		t.Fatalf("err=%v", err)
	}
	if gotUA.Load() != id.UserAgent {
		t.Fatalf("user-agent=%q want %q", gotUA.Load(), id.UserAgent)
	}
}

func TestFetchOnce_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	_, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindHTTP || fe.Status != http.StatusForbidden {
		t.Fatalf("err=%v want http 403 FetchError", err)
	}
}

func TestFetchOnce_ElementMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><td id="other">1500</td></body></html>`)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	_, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindNotFound {
		t.Fatalf("err=%v want not_found FetchError", err)
	}
}

func TestFetchOnce_NonNumericText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("n/a"))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	_, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindParse {
		t.Fatalf("err=%v want parse FetchError", err)
	}
}

func TestFetchOnce_RejectsNonPositive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("-12.5"))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	_, err := f.FetchOnce(context.Background(), f.Session.Acquire())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindParse {
		t.Fatalf("err=%v want parse FetchError", err)
	}
}

func TestFetchWithRetry_AtMostNAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	sig, ok := f.FetchWithRetry(context.Background())
	if ok || sig != nil {
		t.Fatalf("want exhaustion, got sig=%v ok=%v", sig, ok)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("attempts=%d want 3", n)
	}
}

func TestFetchWithRetry_SucceedsAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, indexPage("2,100"))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	sig, ok := f.FetchWithRetry(context.Background())
	if !ok || sig == nil {
		t.Fatalf("want success on third attempt")
	}
	if sig.Value != 2100 {
		t.Fatalf("value=%g want 2100", sig.Value)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("attempts=%d want 3", n)
	}
}

func TestFetchWithRetry_HumanDelayBeforeFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("1500"))
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	f.Config.MinHumanDelay = 30 * time.Millisecond
	f.Config.MaxHumanDelay = 60 * time.Millisecond
	f.Rand = rand.New(rand.NewSource(1))

	start := time.Now()
	if _, ok := f.FetchWithRetry(context.Background()); !ok {
		t.Fatalf("fetch failed")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("no pre-attempt delay: elapsed=%v", elapsed)
	}
}

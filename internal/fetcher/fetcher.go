// Package fetcher reads the raw market index value from the configured
// source page. One fetch is one HTTP GET issued under the session's
// browser identity; the retry wrapper adds the human-scale pacing that
// keeps the request pattern from looking automated.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"feeoracle/internal/config"
	"feeoracle/internal/retry"
	"feeoracle/internal/session"
)

// ErrorKind classifies a failed fetch attempt.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"
	KindHTTP     ErrorKind = "http"
	KindNotFound ErrorKind = "not_found"
	KindParse    ErrorKind = "parse"
)

type FetchError struct {
	Kind   ErrorKind
	Status int
	Err    error
	Msg    string
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch: http %d", e.Status)
	case KindNotFound:
		return fmt.Sprintf("fetch: element not found: %s", e.Msg)
	case KindParse:
		return fmt.Sprintf("fetch: parse %q: %v", e.Msg, e.Err)
	default:
		return fmt.Sprintf("fetch: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// RawSignal is one successfully extracted index reading.
type RawSignal struct {
	Value float64
	Text  string
}

type Fetcher struct {
	Config  config.SourceConfig
	Session *session.Session
	Logger  *zap.Logger
	HTTP    *http.Client
	Rand    *rand.Rand
}

// FetchOnce performs a single read of the source using the given identity.
func (f *Fetcher) FetchOnce(ctx context.Context, id session.Identity) (*RawSignal, error) {
	client := f.HTTP
	if client == nil {
		timeout := f.Config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
		f.HTTP = client
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Config.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: err}
	}
	for k, v := range id.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Kind: KindHTTP, Status: resp.StatusCode}
	}

	// Setting Accept-Encoding ourselves turns off the transport's transparent
	// decompression, so the body arrives in whichever encoding the identity
	// advertised and the server picked.
	body := io.Reader(resp.Body)
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &FetchError{Kind: KindParse, Err: err, Msg: "gzip body"}
		}
		defer gz.Close()
		body = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		body = fr
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, &FetchError{Kind: KindParse, Err: err, Msg: "document"}
	}

	sel := doc.Find("#" + f.Config.ElementID)
	if sel.Length() == 0 {
		return nil, &FetchError{Kind: KindNotFound, Msg: f.Config.ElementID}
	}

	text := strings.TrimSpace(sel.First().Text())
	clean := strings.NewReplacer(",", "", " ", "").Replace(text)
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, &FetchError{Kind: KindParse, Err: err, Msg: text}
	}
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, &FetchError{Kind: KindParse, Msg: text, Err: fmt.Errorf("value %g is not a positive finite number", value)}
	}

	return &RawSignal{Value: value, Text: text}, nil
}

// FetchWithRetry runs up to Config.MaxRetries attempts, pausing a random
// human-scale interval before every attempt (including the first) and
// Config.RetryDelay between failed attempts. Exhaustion is an expected
// outcome, reported as ok=false rather than an error.
func (f *Fetcher) FetchWithRetry(ctx context.Context) (*RawSignal, bool) {
	attempts := f.Config.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var out *RawSignal
	err := retry.Do(ctx, attempts, f.Config.RetryDelay, func(attempt int) error {
		if err := f.humanDelay(ctx); err != nil {
			return err
		}

		id := f.Session.Acquire()
		sig, err := f.FetchOnce(ctx, id)
		if err != nil {
			if f.Logger != nil {
				f.Logger.Warn("index fetch attempt failed",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", attempts),
					zap.Error(err),
				)
			}
			return err
		}

		if f.Logger != nil {
			f.Logger.Info("index extracted",
				zap.Float64("value", sig.Value),
				zap.String("text", sig.Text),
			)
		}
		out = sig
		return nil
	})
	if err != nil {
		if f.Logger != nil {
			f.Logger.Error("all index fetch attempts failed", zap.Error(err))
		}
		return nil, false
	}
	return out, true
}

// humanDelay sleeps a uniformly random duration within the configured
// bounds before a request goes out.
func (f *Fetcher) humanDelay(ctx context.Context) error {
	min := f.Config.MinHumanDelay
	max := f.Config.MaxHumanDelay
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		r := f.Rand
		if r == nil {
			r = rand.New(rand.NewSource(time.Now().UnixNano()))
			f.Rand = r
		}
		d += time.Duration(r.Int63n(int64(span)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	if f.Logger != nil {
		f.Logger.Debug("human delay", zap.Duration("delay", d))
	}
	return retry.Sleep(ctx, d)
}

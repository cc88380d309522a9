package labreport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/labinsight/labinsight/internal/platform/inference"
)

var testLogger = zerolog.Nop()

type promptKind string

const (
	kindExtract  promptKind = "extract"
	kindClassify promptKind = "classify"
	kindExplain  promptKind = "explain"
	kindAlert    promptKind = "alert"
	kindSummary  promptKind = "summary"
)

func kindOf(user string) promptKind {
	switch {
	case strings.HasPrefix(user, "Extract the patient details"):
		return kindExtract
	case strings.HasPrefix(user, "Classify each lab value"):
		return kindClassify
	case strings.HasPrefix(user, "Explain this lab result"):
		return kindExplain
	case strings.HasPrefix(user, "Write a short, calm alert"):
		return kindAlert
	case strings.HasPrefix(user, "Summarize these lab results"):
		return kindSummary
	}
	return ""
}

// fakeCompleter answers each prompt kind from a table. Kinds without an
// entry fail with errNoAnswer.
type fakeCompleter struct {
	answers map[promptKind]func(user string) (string, error)
	delay   time.Duration

	down      atomic.Bool
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	mu    sync.Mutex
	calls map[promptKind]int
	users []string
}

var errNoAnswer = errors.New("fake: no answer")

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		answers: map[promptKind]func(string) (string, error){},
		calls:   map[promptKind]int{},
	}
}

func (f *fakeCompleter) on(kind promptKind, fn func(user string) (string, error)) *fakeCompleter {
	f.answers[kind] = fn
	return f
}

func (f *fakeCompleter) reply(kind promptKind, text string) *fakeCompleter {
	return f.on(kind, func(string) (string, error) { return text, nil })
}

func (f *fakeCompleter) Available() bool { return !f.down.Load() }

func (f *fakeCompleter) Complete(ctx context.Context, system, user string, opts ...inference.Option) (string, error) {
	kind := kindOf(user)
	f.mu.Lock()
	f.calls[kind]++
	f.users = append(f.users, user)
	fn := f.answers[kind]
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if fn == nil {
		return "", fmt.Errorf("%w for %s", errNoAnswer, kind)
	}
	return fn(user)
}

func (f *fakeCompleter) count(kind promptKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeCompleter) lastUser(kind promptKind) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.users) - 1; i >= 0; i-- {
		if kindOf(f.users[i]) == kind {
			return f.users[i]
		}
	}
	return ""
}

// healthyCompleter answers every enrichment and summary prompt.
func healthyCompleter(extraction string) *fakeCompleter {
	return newFakeCompleter().
		reply(kindExtract, extraction).
		reply(kindExplain, "This value is above the usual range.").
		reply(kindAlert, "Please discuss this result with your doctor.").
		reply(kindSummary, `{"summary":"Most results are within range.","health_score":80,"attention_areas":[]}`)
}

type fakeDecoder struct {
	pages []string
	err   error
}

func (d *fakeDecoder) PagesText(ctx context.Context, doc []byte) ([]string, error) {
	return d.pages, d.err
}

type fakeRasterizer struct {
	images [][]byte
	err    error

	mu   sync.Mutex
	dpis []int
}

func (r *fakeRasterizer) RasterizePages(ctx context.Context, doc []byte, dpi int) ([][]byte, error) {
	r.mu.Lock()
	r.dpis = append(r.dpis, dpi)
	r.mu.Unlock()
	return r.images, r.err
}

// fakeRecognizer returns the text registered for an image's bytes.
type fakeRecognizer struct {
	texts map[string]string
	fail  map[string]error
	calls atomic.Int32
}

func (r *fakeRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	r.calls.Add(1)
	if err := r.fail[string(image)]; err != nil {
		return "", err
	}
	return r.texts[string(image)], nil
}

// failingRepo rejects every write.
type failingRepo struct {
	ReportRepository
	err error
}

func (r *failingRepo) Create(ctx context.Context, rep *Report) error {
	return r.err
}

func floatPtr(f float64) *float64 { return &f }

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func rangeOf(lo, hi float64) *ReferenceRange {
	return &ReferenceRange{Min: floatPtr(lo), Max: floatPtr(hi)}
}

func classified(name, value string, status Status, severity Severity) ClassifiedObservation {
	return ClassifiedObservation{
		Observation:    Observation{TestName: name, ObservedValue: value},
		Classification: Classification{Status: status, Severity: severity},
	}
}

func enriched(name string, status Status, severity Severity) EnrichedObservation {
	return EnrichedObservation{ClassifiedObservation: classified(name, "1", status, severity)}
}

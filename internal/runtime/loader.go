// Package runtime is the consumer side of published snapshots: it fetches a
// snapshot over HTTP, preloads the assets it references and walks its step
// graph.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/services"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StagePreload Stage = "preload"
)

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// AssetSink receives the body of every preloaded asset. It is called from
// several goroutines at once.
type AssetSink func(ctx context.Context, assetURL string, body io.Reader) error

type LoaderOptions struct {
	Client *http.Client
	// Concurrency bounds parallel asset downloads; defaults to 4.
	Concurrency int
	// Sink stores downloaded assets; nil discards them after reading.
	Sink AssetSink
	Log  *logger.Logger
}

// Loader runs the fetch, parse and preload stages for one server.
type Loader struct {
	base        *url.URL
	client      *http.Client
	concurrency int
	sink        AssetSink
	log         *logger.Logger
}

// Bundle is a snapshot ready for presentation.
type Bundle struct {
	Document *services.SnapshotDocument
	Graph    *services.Graph
	// Raw is the payload exactly as served.
	Raw    []byte
	Assets []PreloadedAsset
}

type PreloadedAsset struct {
	URL   string
	Bytes int64
}

func NewLoader(baseURL string, opts LoaderOptions) (*Loader, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Loader{
		base:        base,
		client:      opts.Client,
		concurrency: opts.Concurrency,
		sink:        opts.Sink,
		log:         opts.Log.With("component", "RuntimeLoader"),
	}, nil
}

// Start runs Load in the background and calls done exactly once, with either
// a bundle or an error. Cancelling ctx or calling the returned function aborts
// the load; done then receives the context error.
func (l *Loader) Start(ctx context.Context, moduleID string, version int, done func(*Bundle, error)) (cancel func()) {
	ctx, cancel = context.WithCancel(ctx)
	var once sync.Once
	finish := func(b *Bundle, err error) {
		once.Do(func() { done(b, err) })
	}
	go func() {
		defer cancel()
		b, err := l.Load(ctx, moduleID, version)
		finish(b, err)
	}()
	return cancel
}

// Load fetches a snapshot (version 0 means latest), parses it and preloads
// every referenced asset.
func (l *Loader) Load(ctx context.Context, moduleID string, version int) (*Bundle, error) {
	raw, err := l.fetch(ctx, moduleID, version)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	doc, err := parseSnapshot(raw)
	if err != nil {
		return nil, &StageError{Stage: StageParse, Err: err}
	}
	assets, err := l.preload(ctx, doc)
	if err != nil {
		return nil, &StageError{Stage: StagePreload, Err: err}
	}
	l.log.Info("snapshot ready", "module_id", doc.ModuleID, "version", doc.Version, "steps", len(doc.Steps), "assets", len(assets))
	return &Bundle{Document: doc, Graph: services.BuildGraph(doc), Raw: raw, Assets: assets}, nil
}

func (l *Loader) snapshotURL(moduleID string, version int) string {
	p := "runtime/modules/" + url.PathEscape(moduleID)
	if version > 0 {
		p += "/versions/" + strconv.Itoa(version)
	} else {
		p += "/latest"
	}
	return l.base.ResolveReference(&url.URL{Path: p}).String()
}

func (l *Loader) fetch(ctx context.Context, moduleID string, version int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.snapshotURL(moduleID, version), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, services.NewNotFoundError(fmt.Sprintf("module %s has no published snapshot", moduleID))
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	return io.ReadAll(res.Body)
}

func parseSnapshot(raw []byte) (*services.SnapshotDocument, error) {
	snap := &services.PublishedSnapshot{Payload: raw}
	doc, err := snap.Document()
	if err != nil {
		return nil, err
	}
	if doc.ModuleID == "" || doc.Version < 1 {
		return nil, errors.New("payload is not a published snapshot")
	}
	if doc.SchemaVersion > services.SnapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", doc.SchemaVersion)
	}
	return doc, nil
}

// AssetURLs lists the distinct asset URLs a snapshot references, sorted.
func AssetURLs(doc *services.SnapshotDocument) []string {
	seen := map[string]bool{}
	add := func(u string) {
		if u != "" {
			seen[u] = true
		}
	}
	add(doc.ThumbnailURL)
	for _, st := range doc.Steps {
		if st.Media != nil {
			add(st.Media.URL)
		}
		for _, m := range st.Models {
			add(m.URL)
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (l *Loader) preload(ctx context.Context, doc *services.SnapshotDocument) ([]PreloadedAsset, error) {
	urls := AssetURLs(doc)
	out := make([]PreloadedAsset, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			n, err := l.download(gctx, u)
			if err != nil {
				return fmt.Errorf("asset %s: %w", u, err)
			}
			out[i] = PreloadedAsset{URL: u, Bytes: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) download(ctx context.Context, raw string) (int64, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return 0, err
	}
	abs := l.base.ResolveReference(ref).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, abs, nil)
	if err != nil {
		return 0, err
	}
	res, err := l.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", res.Status)
	}
	counter := &countingReader{r: res.Body}
	if l.sink != nil {
		if err := l.sink(ctx, raw, counter); err != nil {
			return 0, err
		}
	}
	if _, err := io.Copy(io.Discard, counter); err != nil {
		return 0, err
	}
	return counter.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

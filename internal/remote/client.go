// Package remote queries the token index service: one batched read per
// viewport, abortable, deduplicated, with a static fallback dataset when
// the index is unreachable.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
)

const (
	defaultMemoTTL  = 5 * time.Second
	defaultMemoSize = 128
)

// Source labels where a result came from.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceMemo     = "memo"
)

// Query asks for tokens whose cell membership intersects the requested
// cell lists at any of the selected resolution levels.
type Query struct {
	Cells  model.CellSet
	Levels [model.NumResolutions]bool
}

type Result struct {
	Tokens []*model.Token
	Source string
}

type Client struct {
	url      string
	http     *http.Client
	log      *slog.Logger
	group    singleflight.Group
	memo     *expirable.LRU[string, []*model.Token]
	fallback []*model.Token
}

type Option func(*Client)

// WithFallback installs the static dataset substituted when the remote
// index is unreachable.
func WithFallback(tokens []*model.Token) Option {
	return func(c *Client) { c.fallback = tokens }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithMemoTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.memo = expirable.NewLRU[string, []*model.Token](defaultMemoSize, nil, ttl)
	}
}

func New(url string, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		url:  url,
		http: newOutbound(),
		log:  log,
		memo: expirable.NewLRU[string, []*model.Token](defaultMemoSize, nil, defaultMemoTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

type wireRequest struct {
	Resolutions [model.NumResolutions][]string `json:"resolutions"`
}

type wireResponse struct {
	Tokens []*model.Token `json:"tokens"`
}

// FetchTokens issues the batched query. Identical concurrent queries are
// collapsed into one network call; a short memo absorbs immediate
// repeats. Cancelling ctx abandons the shared call without aborting it
// for other waiters.
func (c *Client) FetchTokens(ctx context.Context, q Query) (Result, error) {
	sig := signature(q)

	if toks, ok := c.memo.Get(sig); ok {
		return Result{Tokens: toks, Source: SourceMemo}, nil
	}

	ch := c.group.DoChan(sig, func() (any, error) {
		toks, err := c.fetchRemote(context.WithoutCancel(ctx), q)
		if err == nil {
			c.memo.Add(sig, toks)
		}
		return toks, err
	})

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %w", model.ErrAborted, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if c.fallback != nil {
				c.log.Warn("remote index unreachable, serving fallback dataset", "err", res.Err)
				observability.ObserveFetch("fallback")
				return Result{Tokens: filterToQuery(c.fallback, q), Source: SourceFallback}, nil
			}
			return Result{}, model.TransientFetch(res.Err)
		}
		toks, _ := res.Val.([]*model.Token)
		return Result{Tokens: toks, Source: SourceRemote}, nil
	}
}

func (c *Client) fetchRemote(ctx context.Context, q Query) ([]*model.Token, error) {
	var wreq wireRequest
	for level, on := range q.Levels {
		if on {
			wreq.Resolutions[level] = q.Cells.PerRes[level]
		}
	}
	body, err := json.Marshal(wreq)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/tokens/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveRemoteLatency(SourceRemote, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query token index: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("close response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token index status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var wresp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wresp.Tokens, nil
}

// signature is a stable hash of the requested cell lists, used for
// singleflight collapse and memoization.
func signature(q Query) string {
	h := xxhash.New()
	for level, on := range q.Levels {
		if !on {
			continue
		}
		cells := append([]string(nil), q.Cells.PerRes[level]...)
		sort.Strings(cells)
		_, _ = fmt.Fprintf(h, "%d:", level)
		for _, c := range cells {
			_, _ = h.WriteString(c)
			_, _ = h.WriteString(",")
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func filterToQuery(tokens []*model.Token, q Query) []*model.Token {
	var cs model.CellSet
	for level, on := range q.Levels {
		if on {
			cs.PerRes[level] = q.Cells.PerRes[level]
		}
	}
	out := make([]*model.Token, 0, len(tokens))
	for _, t := range tokens {
		if cs.ContainsToken(t) {
			out = append(out, t)
		}
	}
	return out
}

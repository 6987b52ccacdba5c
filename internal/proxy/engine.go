// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package proxy

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/toeirei/drivecfg/internal/security"
)

// Fields are the user supplied parts of a proxy description.
type Fields struct {
	// URL is the Manual proxy, `[scheme://][user:pass@]host:port`.
	URL string
	// Username and Password override credentials embedded in URL.
	Username string
	Password security.Secret
	// PACURL locates the script of an Automatic proxy.
	PACURL string
	// JS is an inline PAC script; it wins over PACURL.
	JS string
}

// Engine builds and persists proxies. It owns the PAC evaluator shared by
// every Automatic proxy it creates.
type Engine struct {
	eval    Evaluator
	fetcher PACFetcher
	cipher  security.Cipher
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the goja evaluator.
func WithEvaluator(ev Evaluator) Option { return func(e *Engine) { e.eval = ev } }

// WithFetcher sets how PAC URLs are retrieved.
func WithFetcher(f PACFetcher) Option { return func(e *Engine) { e.fetcher = f } }

// WithCipher sets the cipher protecting saved passwords.
func WithCipher(c security.Cipher) Option { return func(e *Engine) { e.cipher = c } }

// WithPACTimeout bounds each PAC evaluation of the proxies built by the
// engine.
func WithPACTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// NewEngine returns an Engine using goja, local PAC files and the token
// cipher unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		fetcher: FileFetcher{},
		cipher:  security.NewTokenCipher("drivecfg/proxy-password"),
		timeout: DefaultPACTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	if e.eval == nil {
		e.eval = NewGojaEvaluator(WithTimeout(e.timeout))
	}
	return e
}

// Close releases the evaluator.
func (e *Engine) Close() error {
	if c, ok := e.eval.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Parse builds a proxy of the given category from f. Automatic proxies
// described only by a PAC URL are fetched now.
func (e *Engine) Parse(ctx context.Context, category Category, f Fields) (Proxy, error) {
	switch category {
	case CategoryNone, "":
		return None{}, nil
	case CategorySystem:
		return NewSystem(), nil
	case CategoryManual:
		m, err := parseManual(f.URL)
		if err != nil {
			return nil, err
		}
		if f.Username != "" {
			m.Username = f.Username
			m.Password = f.Password
		}
		return m, nil
	case CategoryAutomatic:
		a := &Automatic{PACURL: f.PACURL, Script: f.JS, eval: e.eval, timeout: e.timeout}
		if a.Script != "" {
			return a, nil
		}
		if a.PACURL == "" {
			return nil, fmt.Errorf("%w: automatic proxy needs a PAC script or URL", ErrInvalidProxySpec)
		}
		if err := e.fetch(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidProxySpec, category)
	}
}

// ParseURL turns a --proxy-server value into a proxy: "" and "none" mean
// no proxy, "system" the environment, a URL ending in ".pac" an Automatic
// proxy, anything else a Manual one.
func (e *Engine) ParseURL(ctx context.Context, raw string) (Proxy, error) {
	switch raw {
	case "", "none", "None":
		return None{}, nil
	case "system", "System":
		return NewSystem(), nil
	}
	if strings.HasSuffix(strings.ToLower(raw), ".pac") {
		return e.Parse(ctx, CategoryAutomatic, Fields{PACURL: raw})
	}
	return e.Parse(ctx, CategoryManual, Fields{URL: raw})
}

func (e *Engine) fetch(ctx context.Context, a *Automatic) error {
	if e.fetcher == nil {
		return fmt.Errorf("%w: no fetcher for %s", ErrPacEvaluation, redactURL(a.PACURL))
	}
	js, err := e.fetcher.Fetch(ctx, a.PACURL)
	if err != nil {
		return fmt.Errorf("%w: fetch %s: %w", ErrPacEvaluation, redactURL(a.PACURL), err)
	}
	a.Script = js
	return nil
}

var defaultEngine = sync.OnceValue(func() *Engine { return NewEngine() })

// Parse builds a proxy with the default engine.
func Parse(category Category, f Fields) (Proxy, error) {
	return defaultEngine().Parse(context.Background(), category, f)
}

// Resolve applies the source precedence: a command line proxy wins, then
// the stored one, then None. A nil cli means no override was given; an
// explicit None override still wins over the stored proxy.
func Resolve(cli, stored Proxy) Proxy {
	if cli != nil {
		return cli
	}
	if stored != nil {
		return stored
	}
	return None{}
}

// Settings is p.Settings(targetURL) with a nil proxy meaning None.
func Settings(p Proxy, targetURL string) map[string]string {
	if p == nil {
		return None{}.Settings(targetURL)
	}
	return p.Settings(targetURL)
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/toeirei/drivecfg/internal/logging"
)

// Automatic routes each destination through a PAC script.
type Automatic struct {
	// PACURL is where Script was fetched from, empty for inline scripts.
	PACURL string
	Script string

	eval    Evaluator
	timeout time.Duration
}

func (a *Automatic) Category() Category { return CategoryAutomatic }

func (a *Automatic) String() string {
	if a.PACURL != "" {
		return fmt.Sprintf("Automatic(%s)", redactURL(a.PACURL))
	}
	return "Automatic(inline script)"
}

// Evaluate runs the script for targetURL and returns its decision.
func (a *Automatic) Evaluate(ctx context.Context, targetURL string) (Directive, error) {
	if a.Script == "" {
		return Directive{}, fmt.Errorf("%w: no script", ErrPacEvaluation)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.eval.Evaluate(ctx, a.Script, targetURL, hostOf(targetURL))
}

// Settings evaluates the script. Any failure is logged and degrades to a
// direct connection.
func (a *Automatic) Settings(targetURL string) map[string]string {
	d, err := a.Evaluate(context.Background(), targetURL)
	if err != nil {
		logging.Warnf("proxy: %v; using a direct connection for %s", err, hostOf(targetURL))
		return map[string]string{}
	}
	if d.Direct {
		return map[string]string{}
	}
	u := d.ProxyURL()
	return map[string]string{HTTP: u, HTTPS: u}
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		// Bare "host[:port][/path]" targets.
		h, _, _ := strings.Cut(target, "/")
		if host, _, err := net.SplitHostPort(h); err == nil {
			return host
		}
		return h
	}
	return u.Hostname()
}

// System follows the HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment
// variables (and their lowercase forms).
type System struct {
	cfg *httpproxy.Config
}

// NewSystem captures the current environment.
func NewSystem() *System {
	return &System{cfg: httpproxy.FromEnvironment()}
}

// NewSystemFrom builds a System proxy from an explicit configuration.
func NewSystemFrom(cfg httpproxy.Config) *System {
	return &System{cfg: &cfg}
}

func (s *System) Category() Category { return CategorySystem }

func (s *System) String() string {
	return fmt.Sprintf("System(http=%s, https=%s, no_proxy=%s)",
		redactURL(s.cfg.HTTPProxy), redactURL(s.cfg.HTTPSProxy), s.cfg.NoProxy)
}

// Settings applies NO_PROXY to targetURL's host; the scheme of the target
// picks the variable, as net/http does.
func (s *System) Settings(targetURL string) map[string]string {
	out := map[string]string{}
	fn := s.cfg.ProxyFunc()
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: HTTP, Host: hostOf(targetURL)}
	}
	for _, scheme := range []string{HTTP, HTTPS} {
		t := *u
		t.Scheme = scheme
		p, err := fn(&t)
		if err != nil {
			logging.Warnf("proxy: environment: %v", err)
			continue
		}
		if p != nil {
			out[scheme] = p.String()
		}
	}
	return out
}

// PACFetcher retrieves a PAC script body from its source URL.
type PACFetcher interface {
	Fetch(ctx context.Context, pacURL string) (string, error)
}

// FileFetcher reads file:// PAC URLs and plain paths. Remote sources are
// left to a fetcher backed by the HTTP client of the caller.
type FileFetcher struct{}

// Fetch implements PACFetcher.
func (FileFetcher) Fetch(_ context.Context, pacURL string) (string, error) {
	path, err := pacPath(pacURL)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// pacPath maps a PAC source to a local path. Windows paths such as
// `C:\corp.pac` are taken as is rather than as a URL with scheme "c".
func pacPath(pacURL string) (string, error) {
	if filepath.VolumeName(pacURL) != "" || hasDriveLetter(pacURL) {
		return pacURL, nil
	}
	u, err := url.Parse(pacURL)
	if err != nil || u.Scheme == "" {
		return pacURL, nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported PAC source scheme %q", u.Scheme)
	}
	// file:///C:/corp.pac
	if p := strings.TrimPrefix(u.Path, "/"); hasDriveLetter(p) {
		return filepath.FromSlash(p), nil
	}
	return u.Path, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		return false
	}
	return len(p) == 2 || p[2] == '\\' || p[2] == '/'
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package proxy

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// DefaultPACTimeout bounds one PAC evaluation.
const DefaultPACTimeout = 2 * time.Second

// Directive is the routing decision of a PAC script for one URL.
type Directive struct {
	Direct bool
	Host   string
	Port   int
}

// ProxyURL returns http://host:port, or "" for a direct connection.
func (d Directive) ProxyURL() string {
	if d.Direct {
		return ""
	}
	return "http://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Evaluator runs FindProxyForURL(url, host) of a PAC script.
type Evaluator interface {
	Evaluate(ctx context.Context, script, url, host string) (Directive, error)
}

// Resolver is the DNS lookup used by the PAC helpers. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// GojaEvaluator evaluates PAC scripts with the goja JavaScript engine.
// Compiled programs are cached by script digest; every evaluation gets a
// fresh runtime so concurrent callers never share VM state.
type GojaEvaluator struct {
	timeout  time.Duration
	resolver Resolver
	myIP     func() string

	mu       sync.Mutex
	programs map[[sha256.Size]byte]*goja.Program
	globs    globCache
}

// EvaluatorOption configures a GojaEvaluator.
type EvaluatorOption func(*GojaEvaluator)

// WithTimeout sets the evaluation time box; non-positive keeps the default.
func WithTimeout(d time.Duration) EvaluatorOption {
	return func(e *GojaEvaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithResolver replaces the DNS resolver used by the PAC helpers.
func WithResolver(r Resolver) EvaluatorOption {
	return func(e *GojaEvaluator) { e.resolver = r }
}

// WithLocalAddress fixes the value returned by myIpAddress().
func WithLocalAddress(ip string) EvaluatorOption {
	return func(e *GojaEvaluator) { e.myIP = func() string { return ip } }
}

// NewGojaEvaluator returns an evaluator with the given options.
func NewGojaEvaluator(opts ...EvaluatorOption) *GojaEvaluator {
	e := &GojaEvaluator{
		timeout:  DefaultPACTimeout,
		resolver: net.DefaultResolver,
		myIP:     localIPv4,
		programs: map[[sha256.Size]byte]*goja.Program{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Close drops the compiled program and pattern caches.
func (e *GojaEvaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.programs)
	e.globs.reset()
	return nil
}

func (e *GojaEvaluator) compile(script string) (*goja.Program, error) {
	sum := sha256.Sum256([]byte(script))
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[sum]; ok {
		return p, nil
	}
	p, err := goja.Compile("proxy.pac", script, false)
	if err != nil {
		return nil, err
	}
	e.programs[sum] = p
	return p, nil
}

// Evaluate implements Evaluator.
func (e *GojaEvaluator) Evaluate(ctx context.Context, script, url, host string) (Directive, error) {
	prog, err := e.compile(script)
	if err != nil {
		return Directive{}, fmt.Errorf("%w: compile: %w", ErrPacEvaluation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rt := goja.New()
	stop := context.AfterFunc(ctx, func() { rt.Interrupt(ctx.Err()) })
	defer stop()

	installHelpers(ctx, rt, e.resolver, e.myIP, &e.globs)
	if _, err := rt.RunProgram(prog); err != nil {
		return Directive{}, evalError(err)
	}
	fn, ok := goja.AssertFunction(rt.Get("FindProxyForURL"))
	if !ok {
		return Directive{}, fmt.Errorf("%w: FindProxyForURL is not defined", ErrPacEvaluation)
	}
	res, err := fn(goja.Undefined(), rt.ToValue(url), rt.ToValue(host))
	if err != nil {
		return Directive{}, evalError(err)
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return Directive{Direct: true}, nil
	}
	return ParseDirective(res.String())
}

func evalError(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Errorf("%w: interrupted: %v", ErrPacEvaluation, ie.Value())
	}
	return fmt.Errorf("%w: %w", ErrPacEvaluation, err)
}

// ParseDirective reads a FindProxyForURL result such as
// "PROXY a:3128; PROXY b:3128; DIRECT" and returns its first usable entry.
// SOCKS entries are skipped.
func ParseDirective(result string) (Directive, error) {
	result = strings.TrimSpace(result)
	if result == "" {
		return Directive{Direct: true}, nil
	}
	for _, entry := range strings.Split(result, ";") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "DIRECT":
			return Directive{Direct: true}, nil
		case "PROXY", "HTTP", "HTTPS":
			if len(fields) != 2 {
				continue
			}
			h, p, err := net.SplitHostPort(fields[1])
			if err != nil {
				continue
			}
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				continue
			}
			return Directive{Host: h, Port: port}, nil
		}
	}
	return Directive{}, fmt.Errorf("%w: unrecognized directive %q", ErrPacEvaluation, result)
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package proxy

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/gobwas/glob"
)

// installHelpers defines the standard PAC functions on rt. DNS lookups use
// ctx so they stop with the evaluation time box.
func installHelpers(ctx context.Context, rt *goja.Runtime, r Resolver, myIP func() string, globs *globCache) {
	resolve := func(host string) string {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
		addrs, err := r.LookupHost(ctx, host)
		if err != nil {
			return ""
		}
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
				return ip.String()
			}
		}
		if len(addrs) > 0 {
			return addrs[0]
		}
		return ""
	}

	set := func(name string, fn any) { _ = rt.Set(name, fn) }

	set("shExpMatch", globs.match)
	set("dnsDomainIs", func(host, domain string) bool {
		return strings.HasSuffix(strings.ToLower(host), strings.ToLower(domain))
	})
	set("isPlainHostName", func(host string) bool { return !strings.Contains(host, ".") })
	set("localHostOrDomainIs", localHostOrDomainIs)
	set("dnsDomainLevels", func(host string) int { return strings.Count(host, ".") })
	set("isResolvable", func(host string) bool { return resolve(host) != "" })
	set("dnsResolve", func(host string) goja.Value {
		if ip := resolve(host); ip != "" {
			return rt.ToValue(ip)
		}
		return goja.Null()
	})
	set("myIpAddress", func() string { return myIP() })
	set("isInNet", func(host, pattern, mask string) bool {
		ip := net.ParseIP(resolve(host))
		return ip != nil && inNet(ip, pattern, mask)
	})
}

// globCache holds the compiled shExpMatch patterns of an evaluator. An
// invalid pattern is stored as nil and never matches.
type globCache struct {
	mu       sync.Mutex
	patterns map[string]glob.Glob
}

func (c *globCache) compile(pattern string) glob.Glob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.patterns[pattern]; ok {
		return g
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		g = nil
	}
	if c.patterns == nil {
		c.patterns = map[string]glob.Glob{}
	}
	c.patterns[pattern] = g
	return g
}

// match is shExpMatch: str against a shell expression. `*` and `?` cross
// dots.
func (c *globCache) match(str, pattern string) bool {
	g := c.compile(pattern)
	return g != nil && g.Match(str)
}

func (c *globCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.patterns)
}

func localHostOrDomainIs(host, hostdom string) bool {
	if strings.EqualFold(host, hostdom) {
		return true
	}
	return !strings.Contains(host, ".") && strings.HasPrefix(strings.ToLower(hostdom), strings.ToLower(host)+".")
}

func inNet(ip net.IP, pattern, mask string) bool {
	p := net.ParseIP(pattern).To4()
	m := net.ParseIP(mask).To4()
	v4 := ip.To4()
	if p == nil || m == nil || v4 == nil {
		return false
	}
	ipm := net.IPMask(m)
	return v4.Mask(ipm).Equal(p.Mask(ipm))
}

// localIPv4 returns the first non-loopback IPv4 address of the host.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
				return n.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package proxy resolves the network proxy used by the client.
//
// A Proxy is one of four categories: None, Manual (a fixed proxy URL),
// Automatic (a PAC script evaluated per destination) and System (the
// HTTP_PROXY family of environment variables). Values are immutable once
// built; Settings may be called concurrently.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/toeirei/drivecfg/internal/security"
)

// Category names a proxy kind. The values are the persisted spelling.
type Category string

const (
	CategoryNone      Category = "None"
	CategoryManual    Category = "Manual"
	CategoryAutomatic Category = "Automatic"
	CategorySystem    Category = "System"
)

var (
	// ErrInvalidProxySpec is returned when a proxy description cannot be
	// split into its parts.
	ErrInvalidProxySpec = errors.New("invalid proxy specification")
	// ErrPacEvaluation is reported when a PAC script cannot be fetched or
	// evaluated, or returns a directive that is not understood.
	ErrPacEvaluation = errors.New("PAC evaluation failed")
)

// Protocol keys of a settings map.
const (
	HTTP  = "http"
	HTTPS = "https"
)

// Proxy is the read-only view handed to network code.
type Proxy interface {
	Category() Category
	// Settings maps "http" and "https" to a proxy URL for targetURL. A
	// missing key means a direct connection.
	Settings(targetURL string) map[string]string
	// String describes the proxy with credentials redacted.
	String() string
}

// None is the direct connection.
type None struct{}

func (None) Category() Category                { return CategoryNone }
func (None) Settings(string) map[string]string { return map[string]string{} }
func (None) String() string                    { return "None" }

// Manual is a fixed proxy.
type Manual struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password security.Secret
}

func (m *Manual) Category() Category { return CategoryManual }

// Authenticated reports whether credentials are attached.
func (m *Manual) Authenticated() bool { return m.Username != "" }

// URL returns scheme://[user:pass@]host:port with the password in clear.
// Only network code should call it.
func (m *Manual) URL() string {
	return m.url(m.Password.Reveal())
}

func (m *Manual) url(password string) string {
	u := url.URL{Scheme: m.Scheme, Host: net.JoinHostPort(m.Host, strconv.Itoa(m.Port))}
	if m.Username != "" {
		if password != "" {
			u.User = url.UserPassword(m.Username, password)
		} else {
			u.User = url.User(m.Username)
		}
	}
	return u.String()
}

// Settings returns the same proxy for both protocols, whatever the target.
func (m *Manual) Settings(string) map[string]string {
	u := m.URL()
	return map[string]string{HTTP: u, HTTPS: u}
}

func (m *Manual) String() string {
	hostport := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if m.Authenticated() {
		// Built by hand: url.URL would escape the mask.
		return fmt.Sprintf("Manual(%s://%s:***@%s)", m.Scheme, url.User(m.Username).String(), hostport)
	}
	return fmt.Sprintf("Manual(%s://%s)", m.Scheme, hostport)
}

// Equal compares every field, credentials included.
func (m *Manual) Equal(o *Manual) bool {
	return o != nil && m.Scheme == o.Scheme && m.Host == o.Host && m.Port == o.Port &&
		m.Username == o.Username && m.Password.Equal(o.Password)
}

// parseManual accepts `[scheme://][user:pass@]host:port`.
func parseManual(raw string) (*Manual, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty proxy URL", ErrInvalidProxySpec)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProxySpec, err)
	}
	host, portStr := u.Hostname(), u.Port()
	if u.Scheme == "" || host == "" || portStr == "" {
		return nil, fmt.Errorf("%w: %q needs a host and a port", ErrInvalidProxySpec, redactURL(raw))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: bad port %q", ErrInvalidProxySpec, portStr)
	}
	m := &Manual{Scheme: strings.ToLower(u.Scheme), Host: host, Port: port}
	if u.User != nil {
		m.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			m.Password = security.FromString(pw)
		}
	}
	return m, nil
}

// redactURL hides userinfo in error messages.
func redactURL(raw string) string {
	i := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if at < 0 || i < 0 || at < i {
		return raw
	}
	return raw[:i+3] + "***@" + raw[at+1:]
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package options is the layered, provenance-tracking option set of the
// client. Every option carries the value and the setter that produced it;
// a setter may only replace a value that was set by an equal or weaker
// setter:
//
//	default < server < local < cli < manual
//
// Options are plain values passed around explicitly. There is no package
// level instance so tests can build independent sets.
package options

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Setter identifies where an option value came from.
type Setter int

const (
	SetterDefault Setter = iota
	SetterServer
	SetterLocal
	SetterCLI
	SetterManual
)

var setterNames = [...]string{"default", "server", "local", "cli", "manual"}

func (s Setter) String() string {
	if s < 0 || int(s) >= len(setterNames) {
		return "unknown"
	}
	return setterNames[s]
}

// ParseSetter maps a setter name back to its Setter.
func ParseSetter(name string) (Setter, error) {
	for i, n := range setterNames {
		if n == name {
			return Setter(i), nil
		}
	}
	return SetterDefault, fmt.Errorf("unknown setter %q", name)
}

var (
	// ErrUnknownOption is returned by Set for an unrecognized option name.
	ErrUnknownOption = errors.New("not a recognized option")
	// ErrOptionType is returned when a value cannot be converted to the
	// option's type.
	ErrOptionType = errors.New("invalid option type")
	// ErrRejected is returned when a checker denies a value.
	ErrRejected = errors.New("option value rejected")
)

// Checker validates (and may normalize) a new value before it is stored.
type Checker func(value any) (any, error)

type entry struct {
	value  any
	setter Setter
}

// Options is safe for concurrent use.
type Options struct {
	mu        sync.RWMutex
	defaults  map[string]any
	values    map[string]entry
	checkers  map[string]Checker
	callbacks map[string][]func(any)
}

// New returns an option set holding the built-in defaults.
func New() *Options {
	o := &Options{
		defaults:  Defaults(),
		checkers:  defaultCheckers(),
		callbacks: map[string][]func(any){},
	}
	o.resetLocked()
	return o
}

// Reset drops every non-default value. Registered callbacks are kept.
func (o *Options) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *Options) resetLocked() {
	o.values = make(map[string]entry, len(o.defaults))
	for k, v := range o.defaults {
		o.values[k] = entry{value: v, setter: SetterDefault}
	}
}

// Normalize maps CLI and file spellings (`proxy-server`, `proxy.server`) to
// the canonical option name.
func Normalize(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// OnChange registers fn to be called after name changes value.
func (o *Options) OnChange(name string, fn func(any)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	name = Normalize(name)
	o.callbacks[name] = append(o.callbacks[name], fn)
}

// Set assigns value to name on behalf of setter. It reports whether the
// stored value changed. A weaker setter than the current one is silently
// ignored.
func (o *Options) Set(name string, value any, setter Setter) (bool, error) {
	name = Normalize(name)

	o.mu.Lock()
	old, ok := o.values[name]
	if !ok {
		o.mu.Unlock()
		return false, fmt.Errorf("%q: %w", name, ErrUnknownOption)
	}

	converted, err := convert(value, o.defaults[name])
	if err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("%q: %w", name, err)
	}
	if check := o.checkers[name]; check != nil {
		if converted, err = check(converted); err != nil {
			o.mu.Unlock()
			return false, fmt.Errorf("%q: %w: %w", name, ErrRejected, err)
		}
	}

	// A value coming from a local file or a manual change is recorded even
	// if it equals the default, so its provenance is visible.
	if converted == old.value && setter != SetterLocal && setter != SetterManual {
		o.mu.Unlock()
		return false, nil
	}
	if setter < old.setter {
		o.mu.Unlock()
		return false, nil
	}
	o.values[name] = entry{value: converted, setter: setter}
	callbacks := append([]func(any){}, o.callbacks[name]...)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(converted)
	}
	return converted != old.value, nil
}

// Update sets every item of values with the same setter. With ignoreUnknown,
// unrecognized names are skipped instead of failing the whole update.
func (o *Options) Update(values map[string]any, setter Setter, ignoreUnknown bool) error {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if _, err := o.Set(name, values[name], setter); err != nil {
			if ignoreUnknown && errors.Is(err, ErrUnknownOption) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the current value of name, or nil when unknown.
func (o *Options) Get(name string) any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.values[Normalize(name)].value
}

// Source returns the setter of the current value of name.
func (o *Options) Source(name string) Setter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.values[Normalize(name)].setter
}

// String returns the string option name ("" when unset or not a string).
func (o *Options) String(name string) string {
	s, _ := o.Get(name).(string)
	return s
}

// Bool returns the boolean option name.
func (o *Options) Bool(name string) bool {
	b, _ := o.Get(name).(bool)
	return b
}

// Int returns the integer option name.
func (o *Options) Int(name string) int {
	n, _ := o.Get(name).(int)
	return n
}

// Duration returns the duration option name.
func (o *Options) Duration(name string) time.Duration {
	d, _ := o.Get(name).(time.Duration)
	return d
}

// Value pairs an option value with its provenance.
type Value struct {
	Value  any
	Setter Setter
}

// Snapshot returns a copy of every option.
func (o *Options) Snapshot() map[string]Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]Value, len(o.values))
	for k, e := range o.values {
		out[k] = Value{Value: e.value, Setter: e.setter}
	}
	return out
}

// Describe lists the options that are not at their default, as
// `Options(name[setter]=value, ...)` in name order.
func (o *Options) Describe() string {
	snap := o.Snapshot()
	names := make([]string, 0, len(snap))
	for k, v := range snap {
		if v.Setter != SetterDefault {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		v := snap[k]
		parts = append(parts, fmt.Sprintf("%s[%s]=%#v", k, v.Setter, redact(k, v.Value)))
	}
	return "Options(" + strings.Join(parts, ", ") + ")"
}

// redact hides credentials embedded in URL-valued options.
func redact(name string, v any) any {
	s, ok := v.(string)
	if !ok || name != OptProxyServer {
		return v
	}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		if i := strings.Index(s, "://"); i >= 0 && i < at {
			return s[:i+3] + "***@" + s[at+1:]
		}
		return "***@" + s[at+1:]
	}
	return s
}

// convert coerces raw to the type of def, accepting the string forms found
// in config files, environment variables and flags.
func convert(raw, def any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch def.(type) {
	case string:
		switch v := raw.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return b, nil
			}
		case int:
			return v != 0, nil
		}
	case int:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n, nil
			}
		}
	case time.Duration:
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case string:
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				return d, nil
			}
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return time.Duration(n) * time.Second, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: got %T, want %T", ErrOptionType, raw, def)
}

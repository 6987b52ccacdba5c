// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/toeirei/drivecfg/internal/security"
	"github.com/toeirei/drivecfg/internal/store"
)

// ErrNotSaved is returned by Load when the token has no saved proxy.
var ErrNotSaved = errors.New("no proxy saved for this token")

// DAO is the part of the configuration store used to persist proxies.
type DAO interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	Batch(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error
}

const (
	fieldCategory = "category"
	fieldScheme   = "scheme"
	fieldHost     = "host"
	fieldPort     = "port"
	fieldUsername = "username"
	fieldPassword = "password"
	fieldPACURL   = "pac_url"
	fieldPACJS    = "pac_script"
)

// keyPrefix is the key namespace of token. The token itself is never
// written to the store.
func keyPrefix(token string) string {
	sum := sha256.Sum256([]byte("drivecfg/proxy:" + token))
	return "proxy/" + hex.EncodeToString(sum[:16]) + "/"
}

// Save replaces the proxy stored for token. Passwords are encrypted with
// the engine cipher keyed by token.
func (e *Engine) Save(ctx context.Context, p Proxy, dao DAO, token string) error {
	if token == "" {
		return fmt.Errorf("save proxy: %w", security.ErrEmptyToken)
	}
	if p == nil {
		p = None{}
	}
	fields := map[string][]byte{fieldCategory: []byte(p.Category())}
	switch v := p.(type) {
	case None, *System:
	case *Manual:
		fields[fieldScheme] = []byte(v.Scheme)
		fields[fieldHost] = []byte(v.Host)
		fields[fieldPort] = []byte(strconv.Itoa(v.Port))
		if v.Username != "" {
			fields[fieldUsername] = []byte(v.Username)
		}
		if !v.Password.Empty() {
			box, err := e.cipher.Encrypt(v.Password.Bytes(), token)
			if err != nil {
				return fmt.Errorf("save proxy: encrypt password: %w", err)
			}
			fields[fieldPassword] = box
		}
	case *Automatic:
		if v.PACURL != "" {
			fields[fieldPACURL] = []byte(v.PACURL)
		} else {
			fields[fieldPACJS] = []byte(v.Script)
		}
	default:
		return fmt.Errorf("save proxy: unsupported proxy type %T", p)
	}

	prefix := keyPrefix(token)
	return dao.Batch(ctx, func(ctx context.Context, tx *store.Tx) error {
		old, err := tx.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range old {
			if err := tx.Delete(ctx, k); err != nil {
				return err
			}
		}
		for name, val := range fields {
			if err := tx.SetBytes(ctx, prefix+name, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load restores the proxy saved for token. Automatic proxies saved with a
// PAC URL are fetched again.
func (e *Engine) Load(ctx context.Context, dao DAO, token string) (Proxy, error) {
	if token == "" {
		return nil, fmt.Errorf("load proxy: %w", security.ErrEmptyToken)
	}
	prefix := keyPrefix(token)
	get := func(name string) (string, error) {
		b, _, err := dao.GetBytes(ctx, prefix+name)
		return string(b), err
	}

	cat, ok, err := dao.GetBytes(ctx, prefix+fieldCategory)
	if err != nil {
		return nil, fmt.Errorf("load proxy: %w", err)
	}
	if !ok {
		return nil, ErrNotSaved
	}

	switch Category(cat) {
	case CategoryNone:
		return None{}, nil
	case CategorySystem:
		return NewSystem(), nil
	case CategoryManual:
		m := &Manual{}
		if m.Scheme, err = get(fieldScheme); err != nil {
			return nil, err
		}
		if m.Host, err = get(fieldHost); err != nil {
			return nil, err
		}
		port, err := get(fieldPort)
		if err != nil {
			return nil, err
		}
		if m.Port, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("load proxy: %w: port %q", ErrInvalidProxySpec, port)
		}
		if m.Username, err = get(fieldUsername); err != nil {
			return nil, err
		}
		box, ok, err := dao.GetBytes(ctx, prefix+fieldPassword)
		if err != nil {
			return nil, err
		}
		if ok {
			pw, err := e.cipher.Decrypt(box, token)
			if err != nil {
				return nil, fmt.Errorf("load proxy: password: %w", err)
			}
			m.Password = security.FromBytes(pw)
		}
		return m, nil
	case CategoryAutomatic:
		f := Fields{}
		if f.PACURL, err = get(fieldPACURL); err != nil {
			return nil, err
		}
		if f.JS, err = get(fieldPACJS); err != nil {
			return nil, err
		}
		return e.Parse(ctx, CategoryAutomatic, f)
	default:
		return nil, fmt.Errorf("load proxy: %w: unknown category %q", ErrInvalidProxySpec, cat)
	}
}

// Save stores p under token with the default engine.
func Save(ctx context.Context, p Proxy, dao DAO, token string) error {
	return defaultEngine().Save(ctx, p, dao, token)
}

// Load reads the proxy of token with the default engine.
func Load(ctx context.Context, dao DAO, token string) (Proxy, error) {
	return defaultEngine().Load(ctx, dao, token)
}

// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package migration

import (
	"context"
	"strings"
)

// Legacy keys rewritten by the built-in steps.
const (
	legacyBrokenUpdateKey = "xxx_broken_update"
	legacyProxyPassword   = "proxy_password"
	legacyProxyAuth       = "proxy_authenticated"
	legacyDirectEditURL   = "direct_edit_protocol_url"
	keyUpdateChannel      = "update_channel"
)

// Builtin returns the steps shipped with the client, in order.
func Builtin() []Step {
	return []Step{
		{ID: 1, Name: "initial_defaults", Upgrade: initialDefaults},
		{ID: 2, Name: "proxy_legacy_plaintext", Upgrade: dropPlaintextProxyPassword},
		{ID: 3, Name: "rename_auto_update_key", Upgrade: renameBrokenUpdateKey},
	}
}

func initialDefaults(ctx context.Context, tx Tx) error {
	if err := setIfAbsent(ctx, tx, keyUpdateChannel, "centralized"); err != nil {
		return err
	}
	if err := setIfAbsent(ctx, tx, KeyAutoUpdate, "true"); err != nil {
		return err
	}
	return tx.Delete(ctx, legacyDirectEditURL)
}

// dropPlaintextProxyPassword removes credentials stored in clear by old
// clients. They cannot be moved into token scope without the token, so the
// user is asked again on the next proxy configuration.
func dropPlaintextProxyPassword(ctx context.Context, tx Tx) error {
	keys, err := tx.Keys(ctx, "proxy_")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == legacyProxyPassword || k == legacyProxyAuth || strings.HasSuffix(k, "_password") {
			if err := tx.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func renameBrokenUpdateKey(ctx context.Context, tx Tx) error {
	v, ok, err := tx.Get(ctx, legacyBrokenUpdateKey)
	if err != nil || !ok {
		return err
	}
	if v != "" {
		if err := tx.Set(ctx, KeyLegacyBrokenVersion, v); err != nil {
			return err
		}
	}
	return tx.Delete(ctx, legacyBrokenUpdateKey)
}

func setIfAbsent(ctx context.Context, tx Tx, key, value string) error {
	_, ok, err := tx.Get(ctx, key)
	if err != nil || ok {
		return err
	}
	return tx.Set(ctx, key, value)
}

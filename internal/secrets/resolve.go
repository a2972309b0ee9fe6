// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package secrets

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI splits keyring://service/key. The key may contain slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	rest, ok := strings.CutPrefix(uri, keyringScheme)
	if !ok {
		return "", "", vikingerr.Errorf(vikingerr.CodeSecretURIInvalid, "not a keyring URI: %q", uri)
	}
	service, key, _ = strings.Cut(rest, "/")
	if service == "" || key == "" {
		return "", "", vikingerr.Errorf(vikingerr.CodeSecretURIInvalid,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve returns value unchanged unless it is a keyring URI, in which case
// the referenced secret is returned.
func Resolve(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}
	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", vikingerr.Wrapf(err, vikingerr.CodeSecretResolveFailure, "resolving %q", value)
	}
	return secret, nil
}

// ResolveViper replaces every keyring URI held by v, in plain string values
// and in string lists such as auth.api_keys. All failures are collected so
// the operator sees every broken reference at once.
func ResolveViper(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case string:
			if !IsKeyringURI(val) {
				continue
			}
			resolved, err := Resolve(store, val)
			if err != nil {
				errs = append(errs, vikingerr.With(err, vikingerr.Field("config_key", key)))
				continue
			}
			v.Set(key, resolved)
		case []any, []string:
			items := v.GetStringSlice(key)
			changed := false
			for i, item := range items {
				if !IsKeyringURI(item) {
					continue
				}
				resolved, err := Resolve(store, item)
				if err != nil {
					errs = append(errs, vikingerr.With(err, vikingerr.Field("config_key", key)))
					continue
				}
				items[i] = resolved
				changed = true
			}
			if changed {
				v.Set(key, items)
			}
		}
	}
	if len(errs) > 0 {
		return vikingerr.Wrap(errors.Join(errs...), vikingerr.CodeSecretResolveFailure, "resolving config secrets")
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// go-keyring cannot enumerate keys, so each service keeps a JSON list of
// its key names under this extra entry.
const indexKeySuffix = "::index"

// KeyringStore implements Store on top of the OS keyring (Keychain,
// secret-service over D-Bus, or Windows Credential Manager).
type KeyringStore struct{}

var _ Store = (*KeyringStore)(nil)

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func checkAddress(op, service, key string) error {
	if service == "" || key == "" {
		return vikingerr.Errorf(vikingerr.CodeSecretInvalidInput,
			"secret %s: service and key must not be empty (got %q/%q)", op, service, key)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkAddress("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkAddress("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", vikingerr.Errorf(vikingerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkAddress("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return vikingerr.Errorf(vikingerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexKeySuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, fn func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = fn(keys)

	indexKey := service + indexKeySuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "saving key index for %s", service)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package secrets resolves provider credentials and API keys stored outside
// the config file. Config values of the form keyring://service/key are
// replaced with the secret held by a Store.
package secrets

// Store is a service/key addressed secret store.
type Store interface {
	Store(service, key, value string) error

	// Retrieve returns a CodeSecretNotFound error when the key is absent.
	Retrieve(service, key string) (string, error)

	// Delete returns a CodeSecretNotFound error when the key is absent.
	Delete(service, key string) error

	// List returns the key names stored under service.
	List(service string) ([]string, error)
}

// DefaultService is the keyring service used by the CLI when none is given.
const DefaultService = "viking"

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// KeyringStore implements Store using the OS keyring via
// zalando/go-keyring: Keychain on macOS, secret-service (D-Bus) on
// Linux, Credential Manager on Windows.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validateRef(service, key); err != nil {
		return err
	}

	if err := keyring.Set(service, key, value); err != nil {
		return keeperr.Wrapf(err, keeperr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validateRef(service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", keeperr.Errorf(keeperr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", keeperr.Wrapf(err, keeperr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validateRef(service, key); err != nil {
		return err
	}

	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return keeperr.Errorf(keeperr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return keeperr.Wrapf(err, keeperr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}
	return nil
}

func validateRef(service, key string) error {
	if service == "" {
		return keeperr.New(keeperr.CodeSecretInvalidInput, "secret service must not be empty")
	}
	if key == "" {
		return keeperr.New(keeperr.CodeSecretInvalidInput, "secret key must not be empty")
	}
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/util"
)

// Credential is what survives a restart.
type Credential struct {
	Token   string    `json:"token"`
	User    *api.User `json:"user,omitempty"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

// Empty reports whether no token is held.
func (c Credential) Empty() bool { return c.Token == "" }

// Persister stores a Credential between runs.
type Persister interface {
	Load() (Credential, error)
	Save(Credential) error
	Clear() error
}

// FilePersister keeps the credential in a JSON file readable only by the
// owner.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the file location.
func (p *FilePersister) Path() string { return p.path }

// Load returns the stored credential, or an empty one when none exists.
func (p *FilePersister) Load() (Credential, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credentials: %w", err)
	}
	if len(data) == 0 {
		return Credential{}, nil
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

// Save writes c atomically with 0600 permissions.
func (p *FilePersister) Save(c Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	// SECURITY: the token grants account access; owner read/write only.
	if err := util.AtomicWriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear removes the file.
func (p *FilePersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

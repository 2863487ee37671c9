// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces the write/rename burst of an atomic save.
const watchDebounce = 150 * time.Millisecond

// ErrNotWatchable is returned by Watch when the persister is not file-backed.
var ErrNotWatchable = errors.New("credential store is not file-backed")

// Watch reloads the credential whenever another process rewrites or removes
// the credentials file, so two running clients agree on who is signed in.
// The parent directory is watched since atomic saves replace the file.
// Watch returns once the watcher is running; it stops on ctx cancel or Close.
func (s *Store) Watch(ctx context.Context) error {
	fp, ok := s.persist.(*FilePersister)
	if !ok {
		return ErrNotWatchable
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(fp.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchMu.Unlock()
		w.Close()
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.watchCancel, s.watchDone = cancel, done
	s.watchMu.Unlock()

	go s.processEvents(wctx, w, filepath.Clean(fp.Path()), done)
	return nil
}

func (s *Store) processEvents(ctx context.Context, w *fsnotify.Watcher, target string, done chan struct{}) {
	defer close(done)
	defer w.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(watchDebounce)
			}

		case <-timer.C:
			s.reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("credential watcher error", zap.Error(err))
		}
	}
}

// reload adopts the on-disk credential and notifies only on a real change.
func (s *Store) reload() {
	cred, err := s.persist.Load()
	if err != nil {
		s.logger.Warn("ignoring unreadable credential update", zap.Error(err))
		return
	}

	s.mu.Lock()
	if cred.Token == s.cred.Token && sameUser(cred, s.cred) {
		s.mu.Unlock()
		return
	}
	s.cred = cred
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("credential changed on disk", zap.Bool("signed_in", snap.SignedIn))
	s.notify(snap)
}

func sameUser(a, b Credential) bool {
	switch {
	case a.User == nil && b.User == nil:
		return true
	case a.User == nil || b.User == nil:
		return false
	default:
		return a.User.ID == b.User.ID && a.User.Email == b.User.Email && a.User.Name == b.User.Name
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/logging"
)

// UpdateProfile edits the signed-in user's profile and adopts the profile
// the backend returns.
func (s *Store) UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (Snapshot, error) {
	token := s.Token()
	if token == "" {
		return Snapshot{}, ErrNotSignedIn
	}
	if upd.Empty() {
		return s.Snapshot(), nil
	}

	user, err := s.backend.UpdateProfile(ctx, upd)
	if err != nil {
		if fe := asFormError(err); fe != nil {
			return s.Snapshot(), fe
		}
		return s.Snapshot(), fmt.Errorf("update profile: %w", err)
	}

	s.mu.Lock()
	if s.cred.Token != token {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.cred.User = user
	cred := s.cred
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist.Save(cred); err != nil {
		s.logger.Warn("failed to persist updated profile", zap.Error(err))
	}
	s.logger.Info("profile updated", logging.Token(token))
	s.notify(snap)
	return snap, nil
}

// ChangePassword sets a new password. The backend revokes every token of
// the account, so on success the local credential is cleared and the user
// must sign in again.
func (s *Store) ChangePassword(ctx context.Context, req api.PasswordChange) (string, error) {
	token := s.Token()
	if token == "" {
		return "", ErrNotSignedIn
	}

	msg, err := s.backend.ChangePassword(ctx, req)
	if err != nil {
		if fe := asFormError(err); fe != nil {
			return "", fe
		}
		return "", fmt.Errorf("change password: %w", err)
	}
	s.logger.Info("password changed", logging.Token(token))
	s.clearIfCurrent(token)
	return msg, nil
}

// asFormError converts a 400 with field messages into a *FormError.
func asFormError(err error) *FormError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		return &FormError{Message: apiErr.Message, Fields: apiErr.Fields}
	}
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Exit codes and user-facing error text.
//
// Commands always return errors; main prints them once and exits with
// ExitCode(err).

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/config"
	"github.com/bhassurance/assurbot/internal/identity"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication failure
	ExitAuthError = 4
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
)

// ErrNotSignedIn is returned by commands that need a signed-in user.
var ErrNotSignedIn = errors.New("non connecté : utilisez `assurbot login`")

// CommandError attaches an exit code to an error.
type CommandError struct {
	Code int
	Err  error
}

func (e *CommandError) Error() string { return e.Err.Error() }
func (e *CommandError) Unwrap() error { return e.Err }

// usageError wraps a message as ExitUsageError.
func usageError(format string, args ...any) error {
	return &CommandError{Code: ExitUsageError, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var verr config.ValidateErrors
	var netErr net.Error
	switch {
	case errors.As(err, &verr):
		return ExitConfigError
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, api.ErrAuthRequired),
		errors.Is(err, ErrNotSignedIn),
		errors.Is(err, identity.ErrNotSignedIn):
		return ExitAuthError
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// Describe turns err into a short French message for the terminal.
func Describe(err error) string {
	var formErr *identity.FormError
	var apiErr *api.APIError
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Email ou mot de passe invalide."
	case errors.As(err, &formErr):
		return formErr.Error()
	case errors.Is(err, identity.ErrNotSignedIn):
		return ErrNotSignedIn.Error()
	case errors.Is(err, api.ErrAuthRequired):
		return "Votre session a expiré. Veuillez vous reconnecter."
	case errors.Is(err, api.ErrRateLimited):
		return "Trop de requêtes. Veuillez patienter quelques instants avant de réessayer."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("Le serveur a refusé la requête (%d) : %s", apiErr.Status, apiErr.Message)
	case errors.As(err, &netErr):
		return "Le serveur est injoignable. Vérifiez l'adresse de l'API (assurbot config get api.base_url)."
	default:
		return err.Error()
	}
}

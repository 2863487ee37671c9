// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// envelope is the {success, message, data} wrapper used by the auth
// endpoints. Some deployments answer with the bare object instead.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// unwrap returns the data member when body is an envelope, or body itself.
func unwrap(body []byte) (json.RawMessage, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Success != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, env.Message, nil
	}
	return trimmed, env.Message, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// ChatReply is a normalized assistant answer.
type ChatReply struct {
	Text         string
	Confidential bool
	RequiresAuth bool
	HowToAuth    string
	// ResponseTime is the backend's own measurement in seconds, if sent.
	ResponseTime float64
	Matched      []string
}

type chatPayload struct {
	Response     *string  `json:"response"`
	Message      string   `json:"message"`
	Confidential bool     `json:"confidential"`
	RequiresAuth bool     `json:"requires_auth"`
	HowToAuth    string   `json:"how_to_auth"`
	ResponseTime float64  `json:"response_time"`
	Matched      []string `json:"matched"`
}

// NormalizeChat maps a chat body to a ChatReply. A 401 carrying a reply is
// a refusal to disclose confidential data, not a transport failure.
func NormalizeChat(status int, body []byte) (ChatReply, error) {
	if status != http.StatusUnauthorized && (status < 200 || status >= 300) {
		return ChatReply{}, handleErrorResponse(&response{Status: status, Body: body})
	}

	data, _, err := unwrap(body)
	if err != nil {
		if status == http.StatusUnauthorized {
			return ChatReply{}, ErrAuthRequired
		}
		return ChatReply{}, err
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChatReply{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if p.Response == nil {
		if status == http.StatusUnauthorized {
			return ChatReply{}, ErrAuthRequired
		}
		return ChatReply{}, fmt.Errorf("%w: chat reply without response", ErrMalformedResponse)
	}

	reply := ChatReply{
		Text:         *p.Response,
		Confidential: p.Confidential,
		RequiresAuth: p.RequiresAuth || status == http.StatusUnauthorized,
		HowToAuth:    p.HowToAuth,
		ResponseTime: p.ResponseTime,
		Matched:      p.Matched,
	}
	return reply, nil
}

// Chat sends one message to the assistant.
func (c *Client) Chat(ctx context.Context, message string, voice bool) (ChatReply, error) {
	resp, err := c.do(ctx, http.MethodPost, PathChat, map[string]any{
		"message":  message,
		"is_voice": voice,
	})
	if err != nil {
		return ChatReply{}, err
	}
	return NormalizeChat(resp.Status, resp.Body)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assistant holds the conversation with the insurance assistant.
package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/logging"
)

var (
	// ErrBusy means the previous message has not been answered yet.
	ErrBusy = errors.New("assistant: a message is already in flight")

	// ErrEmpty means there was nothing to send.
	ErrEmpty = errors.New("assistant: empty message")
)

// MaxMessageLength bounds what is sent to the backend, in runes.
const MaxMessageLength = 2000

// Backend is the chat half of the API client.
type Backend interface {
	Chat(ctx context.Context, message string, voice bool) (api.ChatReply, error)
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleNotice    Role = "notice"
)

// Message is one transcript line.
type Message struct {
	ID           string
	Role         Role
	Text         string
	Voice        bool
	Confidential bool
	RequiresAuth bool
	HowToAuth    string
	// Elapsed is the round trip measured by the client.
	Elapsed time.Duration
	// ServerTime is the backend's own response_time, in seconds.
	ServerTime float64
	At         time.Time
}

// Exchange is a question and its answer, handed to a Recorder.
type Exchange struct {
	Question Message
	Answer   Message
}

// Recorder keeps exchanges, e.g. in the local database.
type Recorder interface {
	RecordChat(ctx context.Context, ex Exchange) error
}

// Service sends messages one at a time and keeps the transcript.
type Service struct {
	backend  Backend
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	inflight *semaphore.Weighted

	mu         sync.Mutex
	transcript []Message
}

// NewService returns a service with an empty transcript. recorder may be nil.
func NewService(backend Backend, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{
		backend:  backend,
		recorder: recorder,
		logger:   logging.OrNop(logger).Named("assistant"),
		now:      time.Now,
		inflight: semaphore.NewWeighted(1),
	}
}

// Send posts text and returns the assistant's reply. A refusal to disclose
// confidential data comes back as a reply with RequiresAuth set, not as an
// error. Failures are also appended to the transcript as notices; see
// Describe for the text to show.
func (s *Service) Send(ctx context.Context, text string, voice bool) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmpty
	}
	if r := []rune(text); len(r) > MaxMessageLength {
		text = string(r[:MaxMessageLength])
	}
	if !s.inflight.TryAcquire(1) {
		return Message{}, ErrBusy
	}
	defer s.inflight.Release(1)

	question := s.append(Message{Role: RoleUser, Text: text, Voice: voice})

	start := s.now()
	reply, err := s.backend.Chat(ctx, text, voice)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Warn("chat failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		s.append(Message{Role: RoleNotice, Text: Describe(err)})
		return Message{}, err
	}

	answer := s.append(Message{
		Role:         RoleAssistant,
		Text:         reply.Text,
		Confidential: reply.Confidential,
		RequiresAuth: reply.RequiresAuth,
		HowToAuth:    reply.HowToAuth,
		Elapsed:      elapsed,
		ServerTime:   reply.ResponseTime,
	})
	s.logger.Debug("chat reply",
		zap.Duration("elapsed", elapsed),
		zap.Bool("confidential", reply.Confidential),
		zap.Bool("requires_auth", reply.RequiresAuth))

	if s.recorder != nil {
		if err := s.recorder.RecordChat(ctx, Exchange{Question: question, Answer: answer}); err != nil {
			s.logger.Warn("failed to record chat", zap.Error(err))
		}
	}
	return answer, nil
}

// Transcript returns a copy of the conversation so far.
func (s *Service) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.transcript...)
}

// Clear forgets the conversation.
func (s *Service) Clear() {
	s.mu.Lock()
	s.transcript = nil
	s.mu.Unlock()
}

func (s *Service) append(m Message) Message {
	m.ID = uuid.NewString()
	m.At = s.now()
	s.mu.Lock()
	s.transcript = append(s.transcript, m)
	s.mu.Unlock()
	return m
}

// Describe turns a Send error into text fit for display.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "Votre message précédent est en cours de traitement."
	case errors.Is(err, ErrEmpty):
		return "Écrivez un message."
	case errors.Is(err, api.ErrAuthRequired):
		return "Votre session a expiré. Veuillez vous reconnecter."
	case errors.Is(err, api.ErrRateLimited):
		return "Trop de requêtes. Veuillez patienter quelques instants avant de réessayer."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "La requête a été annulée."
	default:
		return "L'assistant est momentanément indisponible. Veuillez réessayer."
	}
}

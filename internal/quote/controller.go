// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quote

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
	"github.com/bhassurance/assurbot/internal/validate"
)

var (
	// ErrSubmitInFlight is carried by a NoticeBusy.
	ErrSubmitInFlight = errors.New("quote: a turn is already in flight")

	// ErrFlowDiverged means the backend echoed fields that do not extend
	// the local progress in sequence order.
	ErrFlowDiverged = errors.New("quote: server progress diverged from local progress")

	// ErrClosed is carried by a NoticeClosed after Close.
	ErrClosed = errors.New("quote: controller closed")
)

// TextDiverged is shown when the server echo breaks the sequence.
const TextDiverged = "La progression du devis est désynchronisée avec le serveur. Utilisez /reset pour recommencer."

// Backend is the quote half of the API client.
type Backend interface {
	QuoteTurn(ctx context.Context, message string) (api.TurnResult, error)
	QuoteReset(ctx context.Context) (string, error)
}

// Completed is a finished flow handed to a Recorder.
type Completed struct {
	FlowID    string
	Product   validate.ProductKind
	Collected api.Fields
	Devis     *api.Devis
	At        time.Time
}

// Recorder keeps completed devis, e.g. for the history command.
type Recorder interface {
	RecordDevis(ctx context.Context, c Completed) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder hands every completed devis to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithClock replaces time.Now for transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller runs one quote flow at a time against a Backend.
// It is safe for concurrent use; see Answer for the single-flight rule.
type Controller struct {
	backend  Backend
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	// inflight admits one turn (or reset) at a time.
	inflight *semaphore.Weighted

	mu         sync.Mutex
	flowID     string
	gen        uint64
	closed     bool
	state      State
	question   string
	collected  api.Fields
	devis      *api.Devis
	authReason string
	authHint   string
	transcript []Entry
}

// NewController returns an idle controller.
func NewController(backend Backend, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		logger:   logging.OrNop(logger).Named("quote"),
		now:      time.Now,
		inflight: semaphore.NewWeighted(1),
		flowID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Start asks the backend for the current question. On a fresh flow that is
// the product question; later it re-asks whatever is pending.
func (c *Controller) Start(ctx context.Context) Step {
	gen, prev, refused := c.begin(func(s State) *Notice {
		if s == StateComplete {
			return &Notice{Kind: NoticeClosed, Text: TextClosed}
		}
		return nil
	})
	if refused != nil {
		return *refused
	}
	return c.turn(ctx, gen, prev, "")
}

// Answer validates text against the field the flow is waiting for and, if
// it passes, submits it. A rejected answer is recorded with its reason and
// never reaches the network. While another turn is in flight Answer returns
// a NoticeBusy without sending anything.
func (c *Controller) Answer(ctx context.Context, text string) Step {
	text = strings.TrimSpace(text)
	gen, prev, refused := c.begin(func(s State) *Notice {
		switch s {
		case StateIdle:
			return &Notice{Kind: NoticeInfo, Text: TextNotStarted}
		case StateComplete:
			return &Notice{Kind: NoticeClosed, Text: TextClosed}
		case StateAuthInterrupted:
			return &Notice{Kind: NoticeAuth, Text: api.DefaultAuthMessage, Hint: c.authHint}
		}

		spec, ok := c.currentFieldLocked()
		if !ok {
			// Nothing indexable: free text goes to the backend as is.
			c.appendLocked(Entry{Kind: EntryAnswer, Text: text})
			return nil
		}
		res := spec.Rule.Check(text)
		c.appendLocked(Entry{Kind: EntryAnswer, Text: text})
		if !res.Accepted {
			n := &Notice{Kind: NoticeValidation, Text: res.Reason}
			c.appendLocked(Entry{Kind: EntryNotice, Text: res.Reason, Notice: n})
			c.logger.Debug("answer rejected locally",
				zap.String("flow", c.flowID),
				zap.String("field", spec.Key))
			return n
		}
		return nil
	})
	if refused != nil {
		return *refused
	}
	return c.turn(ctx, gen, prev, text)
}

// Resume re-submits after the user signed in, collecting the devis the
// backend withheld.
func (c *Controller) Resume(ctx context.Context) Step {
	gen, prev, refused := c.begin(func(s State) *Notice {
		if s != StateAuthInterrupted {
			return &Notice{Kind: NoticeInfo, Text: "Aucune authentification en attente."}
		}
		return nil
	})
	if refused != nil {
		return *refused
	}
	return c.turn(ctx, gen, prev, "")
}

// Reset clears the backend flow and all local state, then starts over with
// a new flow id. A turn still in flight is abandoned: its result is dropped.
func (c *Controller) Reset(ctx context.Context) Step {
	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		return c.refuseLocked(&Notice{Kind: NoticeClosed, Text: TextClosed, Err: ErrClosed})
	}
	c.gen++
	c.mu.Unlock()

	// Wait out an abandoned turn so the backend sees reset after it.
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		// The abandoned turn is already stale. Start over locally; the next
		// Start adopts whatever the backend still holds.
		c.clearLocked()
		n := &Notice{Kind: NoticeTransport, Text: TextTransport, Err: err}
		c.appendLocked(Entry{Kind: EntryNotice, Text: n.Text, Notice: n})
		c.logger.Warn("reset abandoned", zap.String("flow", c.flowID), zap.Error(err))
		return c.refuseLocked(n)
	}

	msg, err := c.backend.QuoteReset(ctx)

	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		c.inflight.Release(1)
		return Step{Snapshot: c.snapshotLocked(), Sent: true, Stale: true}
	}
	c.clearLocked()
	if err != nil {
		c.logger.Warn("backend reset failed", zap.Error(err))
		n := c.failureNoticeLocked(err)
		c.appendLocked(Entry{Kind: EntryNotice, Text: n.Text, Notice: n})
		step := Step{Snapshot: c.snapshotLocked(), Notice: n, Sent: true}
		c.mu.Unlock()
		c.inflight.Release(1)
		return step
	}
	if msg == "" {
		msg = TextReset
	}
	c.appendLocked(Entry{Kind: EntryNotice, Text: msg, Notice: &Notice{Kind: NoticeInfo, Text: msg}})
	c.state = StateSubmitting
	gen := c.gen
	c.logger.Info("flow reset", zap.String("flow", c.flowID))
	c.mu.Unlock()

	return c.turn(ctx, gen, StateIdle, "")
}

// Close stops the controller. Pending results are dropped and further
// operations return a NoticeClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Progress derives the display position from the collected fields.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

// =============================================================================
// TURN MECHANICS
// =============================================================================

// begin claims the in-flight slot and moves to Submitting. admit runs under
// the lock and may refuse with a notice; the slot is then released.
func (c *Controller) begin(admit func(State) *Notice) (gen uint64, prev State, refused *Step) {
	if !c.inflight.TryAcquire(1) {
		c.mu.Lock()
		defer c.mu.Unlock()
		step := c.refuseLocked(&Notice{Kind: NoticeBusy, Text: TextBusy, Err: ErrSubmitInFlight})
		return 0, 0, &step
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.inflight.Release(1)
		step := c.refuseLocked(&Notice{Kind: NoticeClosed, Text: TextClosed, Err: ErrClosed})
		return 0, 0, &step
	}
	if n := admit(c.state); n != nil {
		c.inflight.Release(1)
		step := c.refuseLocked(n)
		return 0, 0, &step
	}

	prev = c.state
	c.state = StateSubmitting
	return c.gen, prev, nil
}

// turn sends message and applies the result. The caller holds the in-flight
// slot; turn releases it.
func (c *Controller) turn(ctx context.Context, gen uint64, prev State, message string) Step {
	res, err := c.backend.QuoteTurn(ctx, message)

	c.mu.Lock()
	c.inflight.Release(1)

	if c.closed || c.gen != gen {
		step := Step{Snapshot: c.snapshotLocked(), Sent: true, Stale: true}
		c.mu.Unlock()
		c.logger.Debug("dropping stale quote result")
		return step
	}

	var step Step
	var done *Completed
	if err != nil {
		step = c.failLocked(err, prev)
	} else {
		step, done = c.applyLocked(res, prev)
	}
	step.Sent = true
	c.mu.Unlock()

	if done != nil && c.recorder != nil {
		if err := c.recorder.RecordDevis(ctx, *done); err != nil {
			c.logger.Warn("failed to record devis", zap.String("flow", done.FlowID), zap.Error(err))
		}
	}
	return step
}

func (c *Controller) applyLocked(res api.TurnResult, prev State) (Step, *Completed) {
	switch res.Kind {
	case api.TurnAuthRequired:
		// The user keeps everything answered so far.
		if res.Collected.Len() > 0 && c.extendsLocked(res.Collected) {
			c.collected = res.Collected
		}
		c.state = StateAuthInterrupted
		c.question = ""
		c.authReason = res.Reason
		c.authHint = res.HowToAuth
		n := &Notice{Kind: NoticeAuth, Text: res.Message, Hint: res.HowToAuth, Err: api.ErrAuthRequired}
		c.appendLocked(Entry{Kind: EntryNotice, Text: res.Message, Notice: n})
		c.logger.Info("flow needs authentication",
			zap.String("flow", c.flowID),
			zap.String("reason", res.Reason))
		return Step{Snapshot: c.snapshotLocked(), Notice: n}, nil

	case api.TurnComplete:
		if res.Collected.Len() > 0 && c.extendsLocked(res.Collected) {
			c.collected = res.Collected
		}
		c.state = StateComplete
		c.question = ""
		c.devis = res.Devis
		c.authReason, c.authHint = "", ""
		c.appendLocked(Entry{Kind: EntryDevis, Text: res.Message, Devis: res.Devis})

		product, _ := c.collected.Product()
		source := ""
		if res.Devis != nil {
			if product == "" {
				product, _ = validate.ParseProduct(res.Devis.Product())
			}
			source = res.Devis.Source()
		}
		c.logger.Info("devis issued",
			zap.String("flow", c.flowID),
			zap.String("product", product.String()),
			zap.String("source", source))
		done := &Completed{
			FlowID:    c.flowID,
			Product:   product,
			Collected: c.collected,
			Devis:     res.Devis,
			At:        c.now(),
		}
		return Step{Snapshot: c.snapshotLocked()}, done

	default:
		if !c.extendsLocked(res.Collected) {
			c.state = prev
			n := &Notice{Kind: NoticeTransport, Text: TextDiverged, Err: ErrFlowDiverged}
			c.appendLocked(Entry{Kind: EntryNotice, Text: n.Text, Notice: n})
			c.logger.Warn("server echo rejected",
				zap.String("flow", c.flowID),
				zap.Strings("local", c.collected.Keys()),
				zap.Strings("echo", res.Collected.Keys()))
			return Step{Snapshot: c.snapshotLocked(), Notice: n}, nil
		}
		c.collected = res.Collected
		c.state = StateAwaitingAnswer
		c.question = res.Question
		c.authReason, c.authHint = "", ""
		c.appendLocked(Entry{Kind: EntryQuestion, Text: res.Question})
		return Step{Snapshot: c.snapshotLocked()}, nil
	}
}

func (c *Controller) failLocked(err error, prev State) Step {
	if errors.Is(err, api.ErrAuthRequired) {
		return c.applyLockedAuth(prev)
	}
	c.state = prev
	n := c.failureNoticeLocked(err)
	c.appendLocked(Entry{Kind: EntryNotice, Text: n.Text, Notice: n})
	c.logger.Warn("quote turn failed", zap.String("flow", c.flowID), zap.Error(err))
	return Step{Snapshot: c.snapshotLocked(), Notice: n}
}

// applyLockedAuth handles a bare 401 that carried no quote payload.
func (c *Controller) applyLockedAuth(prev State) Step {
	step, _ := c.applyLocked(api.TurnResult{
		Kind:    api.TurnAuthRequired,
		Message: api.DefaultAuthMessage,
		Reason:  api.DefaultAuthReason,
	}, prev)
	return step
}

func (c *Controller) failureNoticeLocked(err error) *Notice {
	switch {
	case errors.Is(err, api.ErrRateLimited):
		return &Notice{Kind: NoticeRateLimited, Text: TextRateLimited, Err: err}
	default:
		return &Notice{Kind: NoticeTransport, Text: TextTransport, Err: err}
	}
}

// extendsLocked reports whether echo is a gap-free prefix of its product's
// sequence that keeps every locally collected answer.
func (c *Controller) extendsLocked(echo api.Fields) bool {
	product, _ := echo.Product()
	seq := validate.Keys(product)
	keys := echo.Keys()
	if len(keys) > len(seq) {
		return false
	}
	for i, k := range keys {
		if seq[i] != k {
			return false
		}
	}

	if echo.Len() < c.collected.Len() {
		return false
	}
	for _, k := range c.collected.Keys() {
		mine, _ := c.collected.Get(k)
		theirs, ok := echo.Get(k)
		if !ok || mine != theirs {
			return false
		}
	}
	return true
}

func (c *Controller) currentFieldLocked() (validate.FieldSpec, bool) {
	product, _ := c.collected.Product()
	return validate.Next(product, c.collected.Has)
}

func (c *Controller) progressLocked() Progress {
	product, _ := c.collected.Product()
	keys := validate.Keys(product)
	p := Progress{Product: product, Total: len(keys), Complete: c.state == StateComplete}
	for _, k := range keys {
		if !c.collected.Has(k) {
			break
		}
		p.Index++
	}
	if spec, ok := validate.Next(product, c.collected.Has); ok && !p.Complete {
		p.Current = &spec
	}
	return p
}

func (c *Controller) refuseLocked(n *Notice) Step {
	return Step{Snapshot: c.snapshotLocked(), Notice: n}
}

func (c *Controller) clearLocked() {
	c.flowID = uuid.NewString()
	c.gen++
	c.state = StateIdle
	c.question = ""
	c.collected = api.Fields{}
	c.devis = nil
	c.authReason, c.authHint = "", ""
	c.transcript = nil
}

func (c *Controller) appendLocked(e Entry) {
	e.ID = uuid.NewString()
	e.At = c.now()
	c.transcript = append(c.transcript, e)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		FlowID:     c.flowID,
		State:      c.state,
		Question:   c.question,
		Collected:  c.collected,
		Devis:      c.devis,
		AuthReason: c.authReason,
		AuthHint:   c.authHint,
		Transcript: append([]Entry(nil), c.transcript...),
		Progress:   c.progressLocked(),
	}
}

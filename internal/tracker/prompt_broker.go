package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoPendingPrompt = errors.New("no inactivity prompt is pending")
	ErrPromptMismatch  = errors.New("prompt id does not match the pending prompt")
	ErrInvalidDecision = errors.New("decision must be continue, stop or adjust")
)

// PendingPrompt is a prompt waiting for the host UI.
type PendingPrompt struct {
	ID       string    `json:"id"`
	Prompt   Prompt    `json:"prompt"`
	OpenedAt time.Time `json:"opened_at"`
}

// PromptBroker is a Prompter answered out of band: the host UI polls
// Pending and replies with Respond.
type PromptBroker struct {
	mu      sync.Mutex
	pending *PendingPrompt
	answer  chan Decision
	notify  func(PendingPrompt)
}

func NewPromptBroker() *PromptBroker {
	return &PromptBroker{}
}

// OnPrompt registers a callback fired when a prompt opens, e.g. to raise a
// tray notification.
func (b *PromptBroker) OnPrompt(fn func(PendingPrompt)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

func (b *PromptBroker) Confirm(ctx context.Context, prompt Prompt) (Decision, error) {
	answer := make(chan Decision, 1)
	pending := &PendingPrompt{ID: uuid.NewString(), Prompt: prompt, OpenedAt: time.Now().UTC()}

	b.mu.Lock()
	b.pending = pending
	b.answer = answer
	notify := b.notify
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.pending == pending {
			b.pending = nil
			b.answer = nil
		}
		b.mu.Unlock()
	}()

	if notify != nil {
		notify(*pending)
	}

	select {
	case d := <-answer:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the open prompt, if any.
func (b *PromptBroker) Pending() (PendingPrompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return PendingPrompt{}, false
	}
	return *b.pending, true
}

// Respond answers the open prompt. An empty id answers whichever prompt is
// open.
func (b *PromptBroker) Respond(id string, d Decision) error {
	if !d.Valid() {
		return ErrInvalidDecision
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return ErrNoPendingPrompt
	}
	if id != "" && id != b.pending.ID {
		return ErrPromptMismatch
	}
	b.answer <- d
	b.pending = nil
	b.answer = nil
	return nil
}

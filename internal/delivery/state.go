package delivery

import (
	"time"

	"github.com/rassi0429/eew4reso/internal/domain"
)

// State is the delivery bookkeeping owned by a Queue: when the last
// note went out, what it announced, what is still waiting, and how many
// notes have been posted. It is an explicit value rather than package
// state so tests build a fresh one per case and independent queues can
// coexist. Nothing here survives a process restart.
type State struct {
	LastSentAt     time.Time
	LastSent       *domain.Alert
	Pending        []domain.Alert
	DeliveredCount int
}

// NewState returns empty delivery state.
func NewState() *State {
	return &State{}
}

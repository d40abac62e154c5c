// Package resilience classifies failures, keeps a windowed record of them and
// runs the health checks that repair configuration and restart stalled
// components.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/storage"
)

// Kind groups errors by the layer that produced them
type Kind string

const (
	KindConfig   Kind = "config"
	KindStore    Kind = "store"
	KindProvider Kind = "provider"
	KindService  Kind = "service"
)

// Error is a classified failure tagged with where and when it happened
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Err       error
	At        time.Time
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s/%s %s: %v", e.Component, e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err and tags it with component and op. An error that is
// already classified keeps its kind. At is left for the queue to stamp.
func Wrap(component, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Kind: classified.Kind, Component: component, Op: op, Err: err}
	}
	return &Error{Kind: Classify(err), Component: component, Op: op, Err: err}
}

// Classify maps an error onto a Kind
func Classify(err error) Kind {
	var classified *Error
	var status *ai.StatusError

	switch {
	case errors.As(err, &classified):
		return classified.Kind
	case errors.Is(err, config.ErrInvalidSettings):
		return KindConfig
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDuplicate):
		return KindStore
	case errors.Is(err, ai.ErrNoProvider), errors.Is(err, ai.ErrEmptyResponse), errors.As(err, &status):
		return KindProvider
	default:
		return KindService
	}
}

package service

import (
	"context"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// State is a step in one method execution.
type State int

const (
	Idle State = iota
	AuthorizationPending
	Authorized
	Executing
	Succeeded
	Failed
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AuthorizationPending:
		return "authorization_pending"
	case Authorized:
		return "authorized"
	case Executing:
		return "executing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Rejected
}

// Transition is reported to observers on every state change.
type Transition struct {
	Method    Descriptor
	From, To  State
	Principal auth.Principal
	// Err is set when entering Failed or Rejected.
	Err error
	// Elapsed is the time since the execution left Idle.
	Elapsed time.Duration
}

// Observer receives execution transitions. Observers run synchronously on
// the invoking goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, t Transition) { f(ctx, t) }

type execution struct {
	registry  *Registry
	desc      Descriptor
	principal auth.Principal
	started   time.Time
	state     State
}

func (e *execution) to(ctx context.Context, next State, err error) {
	t := Transition{
		Method:    e.desc,
		From:      e.state,
		To:        next,
		Principal: e.principal,
		Err:       err,
		Elapsed:   time.Since(e.started),
	}
	e.state = next
	for _, o := range e.registry.observers {
		o.Observe(ctx, t)
	}
}

// NewLogObserver logs terminal transitions. Rejections are recorded as
// security events.
func NewLogObserver(logger *logging.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, t Transition) {
		if !t.To.Terminal() {
			return
		}
		fields := map[string]interface{}{
			"method":      t.Method.FullName(),
			"tier":        t.Method.Tier.String(),
			"trust":       t.Principal.Trust.String(),
			"state":       t.To.String(),
			"duration_ms": t.Elapsed.Milliseconds(),
		}
		switch t.To {
		case Rejected:
			if t.Principal.Reason != "" {
				fields["evidence"] = t.Principal.Reason
			}
			fields["error"] = t.Err.Error()
			logger.LogSecurityEvent(ctx, "method_rejected", fields)
		case Failed:
			entry := logger.WithContext(ctx).WithFields(fields).WithError(t.Err)
			if se := errors.GetServiceError(t.Err); se != nil && se.HTTPStatus < 500 {
				entry.Info("Method failed")
			} else {
				entry.Error("Method failed")
			}
		default:
			logger.WithContext(ctx).WithFields(fields).Debug("Method succeeded")
		}
	})
}

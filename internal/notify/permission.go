package notify

import (
	"context"
	"sync"
)

type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// ParsePermission accepts granted, denied or anything else as undetermined.
func ParsePermission(s string) Permission {
	switch s {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}

// Prompter asks the user whether notifications may be shown.
type Prompter interface {
	RequestPermission(ctx context.Context) (bool, error)
}

type PrompterFunc func(ctx context.Context) (bool, error)

func (f PrompterFunc) RequestPermission(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Gate remembers the permission decision. The prompter is consulted only
// while the decision is undetermined.
type Gate struct {
	mu       sync.Mutex
	state    Permission
	prompter Prompter
}

func NewGate(initial Permission, prompter Prompter) *Gate {
	return &Gate{state: initial, prompter: prompter}
}

// Request returns whether notifications are allowed, prompting at most once
// for a decision. A failed prompt leaves the state undetermined.
func (g *Gate) Request(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case PermissionGranted:
		return true, nil
	case PermissionDenied:
		return false, nil
	}
	if g.prompter == nil {
		return false, nil
	}

	ok, err := g.prompter.RequestPermission(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		g.state = PermissionGranted
	} else {
		g.state = PermissionDenied
	}
	return ok, nil
}

func (g *Gate) Permission() Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

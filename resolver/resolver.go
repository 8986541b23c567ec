// Package resolver maps feed tokens to display symbols and exchanges.
//
// A Resolver is safe for concurrent Register and Resolve calls and is meant to
// be shared by every connection in the process. Entries are only added or
// overwritten; a session discards its resolver as a whole.
package resolver

import (
	"errors"
	"fmt"
	"sync"

	"angelone_tickstream/models"
)

var ErrTokenNotFound = errors.New("token not found")

// ResolutionError names the token that could not be resolved.
type ResolutionError struct {
	Token string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve token %q: %v", e.Token, ErrTokenNotFound)
}

func (e *ResolutionError) Unwrap() error { return ErrTokenNotFound }

// Entry is the metadata registered for a token.
type Entry struct {
	Name     string
	Exchange models.ExchangeType
}

type Resolver struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Resolver {
	return &Resolver{entries: make(map[string]Entry)}
}

// Register adds token->name pairs under one exchange. A token registered
// again takes the new name and exchange.
func (r *Resolver) Register(exchange models.ExchangeType, tokens map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, name := range tokens {
		r.entries[token] = Entry{Name: name, Exchange: exchange}
	}
}

func (r *Resolver) Resolve(token string) (Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[token]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, &ResolutionError{Token: token}
	}
	return e, nil
}

func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

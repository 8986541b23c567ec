// Package subscription keeps the authoritative set of tokens a connection
// should be subscribed to. An entry means a subscribe was requested and no
// unsubscribe has been requested since; the feed gives no per-token ack.
package subscription

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"angelone_tickstream/models"
	"angelone_tickstream/resolver"
)

var ErrNoTokens = errors.New("no tokens given")

// TokenResolver is the part of resolver.Resolver the registry needs.
type TokenResolver interface {
	Resolve(token string) (resolver.Entry, error)
}

// Group is a set of tokens sharing an exchange and a mode, i.e. one outbound request.
type Group struct {
	Exchange models.ExchangeType
	Mode     models.SubscriptionMode
	Tokens   []string
}

type AddResult struct {
	Accepted Group
	// Rejected tokens were not resolvable or belong to another exchange.
	Rejected []string
}

type RemoveResult struct {
	Removed []Group
	// Unknown tokens were not subscribed.
	Unknown []string
}

type entry struct {
	exchange models.ExchangeType
	mode     models.SubscriptionMode
}

type Registry struct {
	mu       sync.Mutex
	resolver TokenResolver
	entries  map[string]entry
}

func NewRegistry(r TokenResolver) *Registry {
	return &Registry{
		resolver: r,
		entries:  make(map[string]entry),
	}
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Add records tokens under mode, replacing any earlier mode. Tokens the
// resolver does not know, or knows under a different exchange, are returned
// in Rejected and left out of the registry.
func (r *Registry) Add(exchange models.ExchangeType, mode models.SubscriptionMode, tokens []string) (AddResult, error) {
	res := AddResult{Accepted: Group{Exchange: exchange, Mode: mode}}
	if len(tokens) == 0 {
		return res, ErrNoTokens
	}
	if !mode.Valid() {
		return res, fmt.Errorf("subscribe: invalid mode %s", mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tok := range dedupe(tokens) {
		e, err := r.resolver.Resolve(tok)
		if err != nil || e.Exchange != exchange {
			res.Rejected = append(res.Rejected, tok)
			continue
		}
		r.entries[tok] = entry{exchange: exchange, mode: mode}
		res.Accepted.Tokens = append(res.Accepted.Tokens, tok)
	}
	return res, nil
}

// Remove drops tokens from the registry. Tokens that were not present are
// reported in Unknown; the rest are still removed.
func (r *Registry) Remove(tokens []string) (RemoveResult, error) {
	var res RemoveResult
	if len(tokens) == 0 {
		return res, ErrNoTokens
	}

	r.mu.Lock()
	removed := make(map[string]entry)
	for _, tok := range dedupe(tokens) {
		e, ok := r.entries[tok]
		if !ok {
			res.Unknown = append(res.Unknown, tok)
			continue
		}
		delete(r.entries, tok)
		removed[tok] = e
	}
	r.mu.Unlock()

	res.Removed = group(removed)
	return res, nil
}

// SnapshotForResubscribe regroups the current entries by exchange and mode,
// in a stable order, for replay on a fresh connection.
func (r *Registry) SnapshotForResubscribe() []Group {
	r.mu.Lock()
	snap := make(map[string]entry, len(r.entries))
	for tok, e := range r.entries {
		snap[tok] = e
	}
	r.mu.Unlock()
	return group(snap)
}

func (r *Registry) Mode(token string) (models.SubscriptionMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[token]
	return e.mode, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func group(entries map[string]entry) []Group {
	byKey := make(map[entry][]string)
	for tok, e := range entries {
		byKey[e] = append(byKey[e], tok)
	}
	groups := make([]Group, 0, len(byKey))
	for e, toks := range byKey {
		sort.Strings(toks)
		groups = append(groups, Group{Exchange: e.exchange, Mode: e.mode, Tokens: toks})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Exchange != groups[j].Exchange {
			return groups[i].Exchange < groups[j].Exchange
		}
		return groups[i].Mode < groups[j].Mode
	})
	return groups
}

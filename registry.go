package main

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/gorilla/websocket"
)

// unassignedKey groups push channels that belong to clients who have not
// signed in yet. They can watch, but not guess.
const unassignedKey = "unassigned"

var ErrNoLettersLeft = errors.New("no letters left")

// Client is one websocket push channel.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	identity string
}

// identityGroup holds every open channel for one identity (multiple tabs
// share a group) plus the group's reveal state for the current round.
type identityGroup struct {
	clients          map[*Client]bool
	combo            int
	lettersShown     []int
	availableLetters []int
}

type comboAward struct {
	identity string
	streak   int
}

// Registry tracks live push channels keyed by player identity. A send
// failure prunes exactly the failing channel; slow clients never block
// delivery to others.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*identityGroup
}

func newRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*identityGroup),
	}
}

// Register adds a channel under its identity key. A brand-new group starts
// with the supplied reveal state (the globally revealed letters, so late
// joiners see the same mask as everyone else); an existing group keeps its
// own state, which may include purchased letters.
func (r *Registry) Register(c *Client, lettersShown, availableLetters []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[c.identity]
	if !ok {
		g = &identityGroup{
			clients:          make(map[*Client]bool),
			lettersShown:     append([]int(nil), lettersShown...),
			availableLetters: append([]int(nil), availableLetters...),
		}
		r.groups[c.identity] = g
	}
	g.clients[c] = true
}

// Unregister drops a channel; the last channel of a group drops the group.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[c.identity]
	if !ok {
		return
	}
	if g.clients[c] {
		delete(g.clients, c)
		close(c.send)
	}
	if len(g.clients) == 0 {
		delete(r.groups, c.identity)
	}
}

// trySendLocked delivers payload to one channel without blocking. A full
// buffer means the client is dead or hopelessly behind, so it is pruned.
func (r *Registry) trySendLocked(g *identityGroup, identity string, c *Client, payload any) {
	select {
	case c.send <- payload:
	default:
		delete(g.clients, c)
		close(c.send)
		if len(g.clients) == 0 {
			delete(r.groups, identity)
		}
	}
}

// Broadcast fans payload out to every connected channel.
func (r *Registry) Broadcast(payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, g := range r.groups {
		for c := range g.clients {
			r.trySendLocked(g, identity, c, payload)
		}
	}
}

// Unicast delivers payload to every channel of one identity.
func (r *Registry) Unicast(identity string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[identity]
	if !ok {
		return
	}
	for c := range g.clients {
		r.trySendLocked(g, identity, c, payload)
	}
}

// Send delivers payload to a single channel.
func (r *Registry) Send(c *Client, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[c.identity]
	if !ok || !g.clients[c] {
		return
	}
	r.trySendLocked(g, c.identity, c, payload)
}

// ResetRound clears every group's reveal state for a fresh word of
// wordLen letters, of which autoRevealed positions will be shown on the
// countdown schedule and are therefore not purchasable.
func (r *Registry) ResetRound(wordLen int, autoRevealed []int) {
	auto := make(map[int]bool, len(autoRevealed))
	for _, idx := range autoRevealed {
		auto[idx] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		g.lettersShown = nil
		g.availableLetters = g.availableLetters[:0]
		for i := 0; i < wordLen; i++ {
			if !auto[i] {
				g.availableLetters = append(g.availableLetters, i)
			}
		}
	}
}

// RevealLetter adds a scheduled letter position to every group's reveal set.
func (r *Registry) RevealLetter(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		g.lettersShown = append(g.lettersShown, idx)
		for i, avail := range g.availableLetters {
			if avail == idx {
				g.availableLetters = append(g.availableLetters[:i], g.availableLetters[i+1:]...)
				break
			}
		}
	}
}

// BuyLetter pops one random purchasable position for the identity and adds
// it to the group's reveal set.
func (r *Registry) BuyLetter(identity string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[identity]
	if !ok || len(g.availableLetters) == 0 {
		return 0, ErrNoLettersLeft
	}

	i := rand.Intn(len(g.availableLetters))
	idx := g.availableLetters[i]
	g.availableLetters = append(g.availableLetters[:i], g.availableLetters[i+1:]...)
	g.lettersShown = append(g.lettersShown, idx)
	return idx, nil
}

// LettersShown returns a copy of the identity's reveal set.
func (r *Registry) LettersShown(identity string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[identity]
	if !ok {
		return nil
	}
	return append([]int(nil), g.lettersShown...)
}

// EachGroup calls f for every group with its identity, reveal set, and
// channels. Sends from inside f must go through Send/Unicast, not the raw
// channel, so pruning still applies.
func (r *Registry) EachGroup(f func(identity string, lettersShown []int, clients []*Client)) {
	r.mu.Lock()
	type snapshot struct {
		identity string
		shown    []int
		clients  []*Client
	}
	groups := make([]snapshot, 0, len(r.groups))
	for identity, g := range r.groups {
		clients := make([]*Client, 0, len(g.clients))
		for c := range g.clients {
			clients = append(clients, c)
		}
		groups = append(groups, snapshot{
			identity: identity,
			shown:    append([]int(nil), g.lettersShown...),
			clients:  clients,
		})
	}
	r.mu.Unlock()

	for _, g := range groups {
		f(g.identity, g.shown, g.clients)
	}
}

// AdvanceCombos updates every tracked identity's streak at round rollover:
// winners extend their streak, everyone else resets to zero. Identities
// whose streak just reached the threshold are returned for bonus payout,
// and their streak starts over.
func (r *Registry) AdvanceCombos(winners map[string]bool, threshold int) []comboAward {
	r.mu.Lock()
	defer r.mu.Unlock()

	var awards []comboAward
	for identity, g := range r.groups {
		if identity == unassignedKey {
			continue
		}
		if !winners[identity] {
			g.combo = 0
			continue
		}
		g.combo++
		if g.combo >= threshold {
			awards = append(awards, comboAward{identity: identity, streak: g.combo})
			g.combo = 0
		}
	}
	return awards
}

// ClientCount reports the number of connected channels.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, g := range r.groups {
		total += len(g.clients)
	}
	return total
}

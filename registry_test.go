package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadChannelPruning(t *testing.T) {
	reg := newRegistry()

	healthy := &Client{send: make(chan any, 8), identity: "alice#0001"}
	// An unbuffered channel with no reader rejects every send, standing in
	// for a dead connection.
	dead := &Client{send: make(chan any), identity: "bob#0002"}

	reg.Register(healthy, nil, nil)
	reg.Register(dead, nil, nil)
	require.Equal(t, 2, reg.ClientCount())

	reg.Broadcast(CountdownMessage{Type: "countdown", Seconds: 10})

	assert.Equal(t, 1, reg.ClientCount(), "exactly the dead channel is removed")
	assert.Len(t, healthy.send, 1, "delivery to the healthy channel is unaffected")
}

func TestBroadcastReachesAllGroups(t *testing.T) {
	reg := newRegistry()

	a := &Client{send: make(chan any, 8), identity: "alice#0001"}
	b := &Client{send: make(chan any, 8), identity: "bob#0002"}
	anon := &Client{send: make(chan any, 8), identity: unassignedKey}

	reg.Register(a, nil, nil)
	reg.Register(b, nil, nil)
	reg.Register(anon, nil, nil)

	reg.Broadcast(CountdownMessage{Type: "countdown", Seconds: 5})

	for _, c := range []*Client{a, b, anon} {
		assert.Len(t, c.send, 1)
	}
}

func TestUnicastReachesEveryTabOfOneIdentity(t *testing.T) {
	reg := newRegistry()

	tab1 := &Client{send: make(chan any, 8), identity: "alice#0001"}
	tab2 := &Client{send: make(chan any, 8), identity: "alice#0001"}
	other := &Client{send: make(chan any, 8), identity: "bob#0002"}

	reg.Register(tab1, nil, nil)
	reg.Register(tab2, nil, nil)
	reg.Register(other, nil, nil)

	reg.Unicast("alice#0001", ScoreMessage{Type: "score", Name: "alice#0001", Points: 45})

	assert.Len(t, tab1.send, 1)
	assert.Len(t, tab2.send, 1)
	assert.Empty(t, other.send)
}

func TestUnregisterDropsEmptyGroup(t *testing.T) {
	reg := newRegistry()

	tab1 := &Client{send: make(chan any, 8), identity: "alice#0001"}
	tab2 := &Client{send: make(chan any, 8), identity: "alice#0001"}
	reg.Register(tab1, nil, nil)
	reg.Register(tab2, nil, nil)

	reg.Unregister(tab1)
	assert.Equal(t, 1, reg.ClientCount())
	assert.NotNil(t, reg.groups["alice#0001"], "group survives while a tab remains")

	reg.Unregister(tab2)
	assert.Zero(t, reg.ClientCount())
	assert.Nil(t, reg.groups["alice#0001"])
}

func TestBuyLetterExhaustsPool(t *testing.T) {
	reg := newRegistry()

	c := &Client{send: make(chan any, 8), identity: "alice#0001"}
	reg.Register(c, nil, nil)

	// Word of length 5 with 2 scheduled letters: 3 purchasable.
	reg.ResetRound(5, []int{1, 3})

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		idx, err := reg.BuyLetter("alice#0001")
		require.NoError(t, err)
		assert.False(t, seen[idx], "each purchase reveals a different letter")
		assert.NotContains(t, []int{1, 3}, idx, "scheduled letters are not purchasable")
		seen[idx] = true
	}

	_, err := reg.BuyLetter("alice#0001")
	assert.ErrorIs(t, err, ErrNoLettersLeft)
}

func TestRevealLetterRemovesFromPool(t *testing.T) {
	reg := newRegistry()

	c := &Client{send: make(chan any, 8), identity: "alice#0001"}
	reg.Register(c, nil, nil)
	reg.ResetRound(5, nil)

	reg.RevealLetter(2)
	assert.Equal(t, []int{2}, reg.LettersShown("alice#0001"))

	// Four buys drain the remaining pool; the revealed letter never comes up.
	for i := 0; i < 4; i++ {
		idx, err := reg.BuyLetter("alice#0001")
		require.NoError(t, err)
		assert.NotEqual(t, 2, idx)
	}
	_, err := reg.BuyLetter("alice#0001")
	assert.ErrorIs(t, err, ErrNoLettersLeft)
}

func TestRevealSetMonotonicWithinRound(t *testing.T) {
	reg := newRegistry()

	c := &Client{send: make(chan any, 8), identity: "alice#0001"}
	reg.Register(c, nil, nil)
	reg.ResetRound(7, []int{0, 1})

	prev := 0
	reg.RevealLetter(0)
	for _, step := range []func(){
		func() { reg.RevealLetter(1) },
		func() { _, _ = reg.BuyLetter("alice#0001") },
		func() { _, _ = reg.BuyLetter("alice#0001") },
	} {
		step()
		current := len(reg.LettersShown("alice#0001"))
		assert.GreaterOrEqual(t, current, prev)
		prev = current
	}

	// Rollover resets the set.
	reg.ResetRound(7, []int{2, 3})
	assert.Empty(t, reg.LettersShown("alice#0001"))
}

func TestLateJoinerInheritsGlobalReveals(t *testing.T) {
	reg := newRegistry()

	early := &Client{send: make(chan any, 8), identity: "alice#0001"}
	reg.Register(early, nil, nil)
	reg.ResetRound(6, []int{0, 1})
	reg.RevealLetter(0)

	late := &Client{send: make(chan any, 8), identity: "bob#0002"}
	reg.Register(late, []int{0}, []int{2, 3, 4, 5})

	assert.Equal(t, []int{0}, reg.LettersShown("bob#0002"))
	idx, err := reg.BuyLetter("bob#0002")
	require.NoError(t, err)
	assert.NotContains(t, []int{0, 1}, idx)
}

func TestAdvanceCombos(t *testing.T) {
	reg := newRegistry()

	for _, identity := range []string{"alice#0001", "bob#0002", unassignedKey} {
		c := &Client{send: make(chan any, 8), identity: identity}
		reg.Register(c, nil, nil)
	}

	winners := map[string]bool{"alice#0001": true}

	// Two winning rounds: no bonus yet at threshold 3.
	assert.Empty(t, reg.AdvanceCombos(winners, 3))
	assert.Empty(t, reg.AdvanceCombos(winners, 3))

	// Third consecutive win completes the streak.
	awards := reg.AdvanceCombos(winners, 3)
	require.Len(t, awards, 1)
	assert.Equal(t, "alice#0001", awards[0].identity)
	assert.Equal(t, 3, awards[0].streak)

	// The streak starts over after paying out.
	assert.Empty(t, reg.AdvanceCombos(winners, 3))

	// A miss resets bob's progress.
	reg.AdvanceCombos(map[string]bool{"bob#0002": true}, 3)
	reg.AdvanceCombos(map[string]bool{"bob#0002": true}, 3)
	reg.AdvanceCombos(winners, 3)
	awards = reg.AdvanceCombos(map[string]bool{"bob#0002": true}, 3)
	assert.Empty(t, awards, "bob's streak restarted after the missed round")
}

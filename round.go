// Guessbox shared round engine
//
// One round is live at a time, server-wide. In word mode the round is a
// secret word sampled from the corpus; in trivia mode it is a generated
// question with four options, pulled from the topic queue. A polling loop
// drives the countdown: every second the engine broadcasts the remaining
// time, appends scheduled hints, reveals scheduled letters, and pushes each
// identity's own masked word (late joiners and letter buyers see different
// masks). Guesses arrive concurrently over HTTP; all round state is guarded
// by a single engine mutex so guess handling and tick handling never
// interleave inconsistently.
//
// Schedule within a round of duration D:
// - hint1 while remaining >= 2/3 D, hint2 between 1/3 D and 2/3 D,
//   hint3 at or below 1/3 D, each appended at most once
// - two pre-picked letter positions revealed at 3/4 D and 2/4 D
// - correct guess awards floor(50 * remaining / D) points
// - the countdown always runs to completion; multiple winners are allowed
//
// Rollover clears the transcript and winner set, resets every identity's
// reveal state, and (in trivia mode) advances combo streaks: winners extend
// their streak, everyone else resets.

package main

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
)

var (
	ErrSignInRequired  = errors.New("only signed-in players can do that")
	ErrNoActiveRound   = errors.New("no active round")
	ErrEmptyGuess      = errors.New("cannot send empty guess")
	ErrMultiWordGuess  = errors.New("you can only send one word")
	ErrGuessTooLong    = errors.New("guess is too long")
	ErrAlreadyAnswered = errors.New("already answered correctly")
	ErrNotWordMode     = errors.New("letters can only be bought in word mode")
)

const (
	startingPoints = 20
	leaderboardTop = 20
	transcriptCap  = 200
	scheduledPicks = 2
)

// Round is the single currently-playable unit.
type Round struct {
	answer   string
	hints    [3]string
	question string
	options  []string

	durationSecs int
	startedAt    time.Time

	revealSlots    []int // scheduled letter positions, word mode
	revealedGlobal []int // scheduled letters revealed so far
	shownHints     []string
	hintFired      [3]bool
	letterFired    [scheduledPicks]bool
	lastSecond     int

	winners    []string
	transcript []TranscriptEntry
}

func (rd *Round) hasWinner(identity string) bool {
	for _, w := range rd.winners {
		if w == identity {
			return true
		}
	}
	return false
}

// GuessResult reports the outcome of a resolved guess to the submitter.
type GuessResult struct {
	Correct bool
	Close   bool
	Points  int
	Total   int
}

// Engine owns the round state machine. It is injected into handlers and
// background loops; there are no package-level game globals.
type Engine struct {
	cfg   *Config
	store *Store
	reg   *Registry
	queue *TopicQueue // nil in word mode

	mu    sync.Mutex
	round *Round
}

func newEngine(cfg *Config, store *Store, reg *Registry, queue *TopicQueue) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		reg:   reg,
		queue: queue,
	}
}

// Run drives the engine with a polling loop. Round timing granularity is
// seconds, so a 100ms cadence is plenty; per-iteration failures are logged
// and never stop the loop.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tick(time.Now()); err != nil {
				logf(e.cfg, "ERROR: Round tick: %v", err)
			}
		}
	}
}

// tick advances the state machine by one evaluation: select a round when
// none is live, roll over an expired one, or run the per-second work when
// the countdown crossed a second boundary.
func (e *Engine) tick(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round == nil {
		return e.selectRoundLocked(now)
	}

	remaining := e.round.durationSecs - int(now.Sub(e.round.startedAt)/time.Second)
	if remaining < 0 {
		e.rolloverLocked()
		return e.selectRoundLocked(now)
	}

	if remaining != e.round.lastSecond {
		e.round.lastSecond = remaining
		e.perSecondLocked(remaining)
	}
	return nil
}

// selectRoundLocked picks the next playable unit. Trivia mode stalls until
// the topic queue has a successful topic; word mode samples the corpus.
func (e *Engine) selectRoundLocked(now time.Time) error {
	rd := &Round{
		durationSecs: int(e.cfg.roundDuration / time.Second),
		startedAt:    now,
	}

	switch e.cfg.mode {
	case modeTrivia:
		topic := e.queue.PopSuccessful()
		if topic == nil {
			return nil
		}
		rd.question = topic.Question.Text
		rd.options = append([]string(nil), topic.Question.Options...)
		rd.answer = topic.Question.Answer
		logf(e.cfg, "ROUND: Started trivia round for topic %q", topic.Subject)

	default:
		word, err := e.store.SampleWord(e.cfg.minWordLength)
		if err != nil {
			return err
		}
		rd.answer = word.Word
		copy(rd.hints[:], word.Hints[:3])

		perm := rand.Perm(len([]rune(word.Word)))
		rd.revealSlots = append(rd.revealSlots, perm[:scheduledPicks]...)
		logf(e.cfg, "ROUND: Started word round (%d letters)", len([]rune(word.Word)))
	}

	e.round = rd
	e.reg.ResetRound(len([]rune(rd.answer)), rd.revealSlots)

	e.broadcastRoundLocked()
	e.broadcastTranscriptLocked()

	rd.lastSecond = rd.durationSecs
	e.perSecondLocked(rd.durationSecs)

	return nil
}

// rolloverLocked retires the current round. The polling loop is the only
// tick source, so clearing the round is all the cancellation needed: no
// stale tick can fire for a retired round.
func (e *Engine) rolloverLocked() {
	rd := e.round
	e.round = nil

	logf(e.cfg, "ROUND: Expired (%d winners)", len(rd.winners))

	if e.cfg.mode != modeTrivia {
		return
	}

	winners := make(map[string]bool, len(rd.winners))
	for _, w := range rd.winners {
		winners[w] = true
	}

	for _, award := range e.reg.AdvanceCombos(winners, e.cfg.comboThreshold) {
		total, err := e.store.AddPoints(award.identity, e.cfg.comboBonus)
		if err != nil {
			logf(e.cfg, "ERROR: Combo payout for %s: %v", award.identity, err)
			continue
		}
		e.reg.Unicast(award.identity, ScoreMessage{Type: "score", Name: award.identity, Points: total})
		e.reg.Unicast(award.identity, ToastMessage{Type: "toast", Level: "info", Message: "Combo bonus!"})
		logf(e.cfg, "ROUND: Combo bonus for %s (streak %d)", award.identity, award.streak)
	}
}

// perSecondLocked is the once-per-second work: countdown, hint schedule,
// letter schedule, and per-identity masked word fan-out.
func (e *Engine) perSecondLocked(remaining int) {
	rd := e.round

	e.reg.Broadcast(CountdownMessage{Type: "countdown", Seconds: remaining})

	if e.cfg.mode == modeTrivia {
		return
	}

	duration := float64(rd.durationSecs)
	first := duration / 3 * 2
	second := duration / 3

	if float64(remaining) >= first && !rd.hintFired[0] {
		rd.hintFired[0] = true
		rd.shownHints = append(rd.shownHints, rd.hints[0])
	}
	if float64(remaining) <= first && float64(remaining) >= second && !rd.hintFired[1] {
		rd.hintFired[1] = true
		rd.shownHints = append(rd.shownHints, rd.hints[1])
	}
	if float64(remaining) <= second && !rd.hintFired[2] {
		rd.hintFired[2] = true
		rd.shownHints = append(rd.shownHints, rd.hints[2])
	}

	e.reg.Broadcast(HintsMessage{Type: "hints", Hints: append([]string(nil), rd.shownHints...)})

	thresholds := [scheduledPicks]int{rd.durationSecs * 3 / 4, rd.durationSecs / 2}
	for i, threshold := range thresholds {
		if remaining <= threshold && !rd.letterFired[i] {
			rd.letterFired[i] = true
			idx := rd.revealSlots[i]
			rd.revealedGlobal = append(rd.revealedGlobal, idx)
			e.reg.RevealLetter(idx)
		}
	}

	e.broadcastMasksLocked()
}

// broadcastMasksLocked pushes each identity's own masked word, built from
// that identity's reveal set.
func (e *Engine) broadcastMasksLocked() {
	answer := e.round.answer
	e.reg.EachGroup(func(identity string, shown []int, clients []*Client) {
		msg := MaskedWordMessage{Type: "masked_word", Word: maskWord(answer, shown)}
		for _, c := range clients {
			e.reg.Send(c, msg)
		}
	})
}

func (e *Engine) broadcastRoundLocked() {
	rd := e.round
	msg := RoundMessage{
		Type:     "round",
		Mode:     e.cfg.mode,
		Length:   len([]rune(rd.answer)),
		Question: rd.question,
		Options:  append([]string(nil), rd.options...),
	}
	e.reg.Broadcast(msg)
}

func (e *Engine) broadcastTranscriptLocked() {
	e.reg.Broadcast(transcriptMessage(e.round.transcript))
}

func (e *Engine) broadcastLeaderboardLocked() {
	msg, err := e.leaderboardMessage()
	if err != nil {
		logf(e.cfg, "ERROR: Leaderboard read: %v", err)
		return
	}
	e.reg.Broadcast(msg)
}

func (e *Engine) leaderboardMessage() (LeaderboardMessage, error) {
	players, err := e.store.TopPlayers(leaderboardTop)
	if err != nil {
		return LeaderboardMessage{}, err
	}

	rows := make([]LeaderboardRow, 0, len(players))
	for i, p := range players {
		rows = append(rows, LeaderboardRow{Rank: i + 1, Name: p.Name, Points: p.Points})
	}
	return LeaderboardMessage{Type: "leaderboard", Rows: rows}, nil
}

// Connect registers a new push channel and sends it the current snapshot.
// A brand-new identity inherits the globally revealed letters; purchasable
// letters are everything else outside the scheduled slots.
func (e *Engine) Connect(c *Client) {
	leaderboard, lbErr := e.leaderboardMessage()

	e.mu.Lock()
	defer e.mu.Unlock()

	var shown, available []int
	if e.round != nil && e.cfg.mode == modeWord {
		shown = append(shown, e.round.revealedGlobal...)
		scheduled := make(map[int]bool, len(e.round.revealSlots))
		for _, idx := range e.round.revealSlots {
			scheduled[idx] = true
		}
		revealed := make(map[int]bool, len(shown))
		for _, idx := range shown {
			revealed[idx] = true
		}
		for i := range []rune(e.round.answer) {
			if !scheduled[i] && !revealed[i] {
				available = append(available, i)
			}
		}
	}

	e.reg.Register(c, shown, available)
	logf(e.cfg, "SERVE: Client connected as %s (%d online)", c.identity, e.reg.ClientCount())

	if lbErr != nil {
		logf(e.cfg, "ERROR: Leaderboard read: %v", lbErr)
	} else {
		e.reg.Send(c, leaderboard)
	}

	if e.round == nil {
		e.reg.Send(c, transcriptMessage(nil))
		return
	}

	rd := e.round
	e.reg.Send(c, RoundMessage{
		Type:     "round",
		Mode:     e.cfg.mode,
		Length:   len([]rune(rd.answer)),
		Question: rd.question,
		Options:  append([]string(nil), rd.options...),
	})
	e.reg.Send(c, CountdownMessage{Type: "countdown", Seconds: rd.lastSecond})
	e.reg.Send(c, transcriptMessage(rd.transcript))

	if e.cfg.mode == modeWord {
		e.reg.Send(c, HintsMessage{Type: "hints", Hints: append([]string(nil), rd.shownHints...)})
		e.reg.Send(c, MaskedWordMessage{Type: "masked_word", Word: maskWord(rd.answer, shown)})
	}
}

// Disconnect drops a push channel.
func (e *Engine) Disconnect(c *Client) {
	e.reg.Unregister(c)
	logf(e.cfg, "SERVE: Client disconnected from %s (%d online)", c.identity, e.reg.ClientCount())
}

// SubmitGuess validates, resolves, and scores one guess.
func (e *Engine) SubmitGuess(identity, text string) (GuessResult, error) {
	if identity == "" || identity == unassignedKey {
		return GuessResult{}, ErrSignInRequired
	}

	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return GuessResult{}, ErrEmptyGuess
	case strings.ContainsFunc(text, unicode.IsSpace):
		return GuessResult{}, ErrMultiWordGuess
	case len([]rune(text)) > e.cfg.maxGuessLength:
		return GuessResult{}, ErrGuessTooLong
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rd := e.round
	if rd == nil {
		return GuessResult{}, ErrNoActiveRound
	}

	normalized := strings.ToLower(text)
	if normalized != strings.ToLower(rd.answer) {
		isClose := similarity(normalized, strings.ToLower(rd.answer)) >= 0.75
		e.appendTranscriptLocked(TranscriptEntry{Player: identity, Text: text})
		e.broadcastTranscriptLocked()
		logf(e.cfg, "GUESS: %q from %s", text, identity)
		return GuessResult{Close: isClose}, nil
	}

	if rd.hasWinner(identity) {
		return GuessResult{}, ErrAlreadyAnswered
	}

	remaining := rd.lastSecond
	if remaining < 0 {
		remaining = 0
	}
	award := 50 * remaining / rd.durationSecs

	if _, err := e.store.EnsurePlayer(identity, startingPoints); err != nil {
		return GuessResult{}, err
	}
	total, err := e.store.AddPoints(identity, award)
	if err != nil {
		return GuessResult{}, err
	}

	rd.winners = append(rd.winners, identity)
	e.appendTranscriptLocked(TranscriptEntry{Player: identity, Text: "answered correctly", Correct: true})

	e.reg.Unicast(identity, ScoreMessage{Type: "score", Name: identity, Points: total})
	e.broadcastLeaderboardLocked()
	e.broadcastTranscriptLocked()

	logf(e.cfg, "GUESS: %s answered correctly for %d points", identity, award)

	return GuessResult{Correct: true, Points: award, Total: total}, nil
}

// BuyLetter reveals one extra random letter for this identity only.
func (e *Engine) BuyLetter(identity string) (string, error) {
	if identity == "" || identity == unassignedKey {
		return "", ErrSignInRequired
	}
	if e.cfg.mode != modeWord {
		return "", ErrNotWordMode
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round == nil {
		return "", ErrNoActiveRound
	}

	if _, err := e.reg.BuyLetter(identity); err != nil {
		return "", err
	}

	mask := maskWord(e.round.answer, e.reg.LettersShown(identity))
	e.reg.Unicast(identity, MaskedWordMessage{Type: "masked_word", Word: mask})

	logf(e.cfg, "GUESS: %s bought a letter", identity)

	return mask, nil
}

func (e *Engine) appendTranscriptLocked(entry TranscriptEntry) {
	rd := e.round
	rd.transcript = append(rd.transcript, entry)
	if len(rd.transcript) > transcriptCap {
		rd.transcript = rd.transcript[len(rd.transcript)-transcriptCap:]
	}
}

// maskWord renders the answer with unrevealed positions blanked out.
func maskWord(answer string, shown []int) string {
	revealed := make(map[int]bool, len(shown))
	for _, idx := range shown {
		revealed[idx] = true
	}

	runes := []rune(answer)
	out := make([]rune, len(runes))
	for i, r := range runes {
		if revealed[i] {
			out[i] = r
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// similarity is an edit-distance ratio in [0, 1], used to nudge guessers
// who are close to the answer.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	return 1 - float64(levenshtein(ra, rb))/float64(max(len(ra), len(rb)))
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

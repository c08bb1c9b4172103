package main

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TopicStatus string

const (
	TopicPending    TopicStatus = "pending"
	TopicComputing  TopicStatus = "computing"
	TopicFailed     TopicStatus = "failed"
	TopicSuccessful TopicStatus = "successful"
)

var (
	ErrQueueFull    = errors.New("topic queue is full")
	ErrEmptySubject = errors.New("topic subject cannot be empty")
)

// seedSubjects feed the monitor loop whenever the queue runs dry, so the
// trivia game never stalls waiting for player submissions.
var seedSubjects = []string{
	"world capitals",
	"famous inventors",
	"ocean life",
	"classical music",
	"space exploration",
	"ancient civilizations",
	"olympic history",
	"programming languages",
	"european rivers",
	"classic literature",
}

// Topic is a candidate trivia subject moving through the moderation and
// generation pipeline before it becomes playable.
type Topic struct {
	ID       string
	Subject  string
	Points   int
	Status   TopicStatus
	Question *Question
	System   bool
	Seq      int64
	FailedAt time.Time
}

// TopicQueue orders topics by bid points descending, ties broken by arrival.
// A fixed worker pool claims topics exclusively and advances each by exactly
// one pipeline step per claim.
type TopicQueue struct {
	cfg       *Config
	store     *Store
	moderator Moderator
	generator Generator

	mu      sync.Mutex
	topics  map[string]*Topic
	claimed map[string]bool
}

func newTopicQueue(cfg *Config, store *Store, moderator Moderator, generator Generator) (*TopicQueue, error) {
	q := &TopicQueue{
		cfg:       cfg,
		store:     store,
		moderator: moderator,
		generator: generator,
		topics:    make(map[string]*Topic),
		claimed:   make(map[string]bool),
	}

	records, err := store.ListTopics()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		t := &Topic{
			ID:      rec.ID,
			Subject: rec.Subject,
			Points:  rec.Points,
			Status:  TopicStatus(rec.Status),
			System:  rec.System,
			Seq:     rec.Seq,
		}
		if rec.FailedAt > 0 {
			t.FailedAt = time.Unix(rec.FailedAt, 0)
		}
		if t.Status == TopicSuccessful {
			t.Question = &Question{Text: rec.Question, Options: rec.Options, Answer: rec.Answer}
		}
		q.topics[t.ID] = t
	}

	return q, nil
}

// Submit enqueues a new pending topic.
func (q *TopicQueue) Submit(subject string, points int, system bool) (*Topic, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.topics) >= q.cfg.maxTopics {
		return nil, ErrQueueFull
	}

	t := &Topic{
		ID:      uuid.NewString(),
		Subject: subject,
		Points:  points,
		Status:  TopicPending,
		System:  system,
	}
	seq, err := q.store.InsertTopic(TopicRecord{
		ID:      t.ID,
		Subject: t.Subject,
		Points:  t.Points,
		Status:  string(t.Status),
		System:  t.System,
	})
	if err != nil {
		return nil, err
	}
	t.Seq = seq
	q.topics[t.ID] = t

	logf(q.cfg, "TOPIC: Queued %q (%d pts)", t.Subject, t.Points)

	return t, nil
}

// higherPriority reports whether a should be processed before b:
// points descending, then arrival order.
func higherPriority(a, b *Topic) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	return a.Seq < b.Seq
}

// claimNext takes exclusive ownership of the highest-priority topic that is
// neither terminal nor already claimed. Callers must release it afterwards.
func (q *TopicQueue) claimNext() *Topic {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Topic
	for _, t := range q.topics {
		if q.claimed[t.ID] {
			continue
		}
		if t.Status != TopicPending && t.Status != TopicComputing {
			continue
		}
		if best == nil || higherPriority(t, best) {
			best = t
		}
	}
	if best != nil {
		q.claimed[best.ID] = true
	}
	return best
}

func (q *TopicQueue) release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.claimed, id)
}

// step advances a claimed topic by exactly one pipeline stage. Failure is
// terminal; the topic stays visible until the purge loop removes it.
func (q *TopicQueue) step(ctx context.Context, t *Topic) {
	switch t.Status {
	case TopicPending:
		ok, err := q.moderator.Check(ctx, t.Subject)
		if err != nil {
			logf(q.cfg, "TOPIC: Moderation failed for %q: %v", t.Subject, err)
			q.fail(t)
			return
		}
		if !ok {
			logf(q.cfg, "TOPIC: Rejected %q", t.Subject)
			q.fail(t)
			return
		}
		q.setStatus(t, TopicComputing)

	case TopicComputing:
		question, err := q.generator.Generate(ctx, t.Subject)
		if err != nil {
			logf(q.cfg, "TOPIC: Generation failed for %q: %v", t.Subject, err)
			q.fail(t)
			return
		}

		q.mu.Lock()
		t.Status = TopicSuccessful
		t.Question = question
		q.mu.Unlock()

		if err := q.store.UpdateTopicQuestion(t.ID, string(TopicSuccessful), question.Text, question.Options, question.Answer); err != nil {
			logf(q.cfg, "ERROR: Persisting topic %q: %v", t.Subject, err)
		}
		logf(q.cfg, "TOPIC: Generated question for %q", t.Subject)
	}
}

func (q *TopicQueue) setStatus(t *Topic, status TopicStatus) {
	q.mu.Lock()
	t.Status = status
	q.mu.Unlock()

	if err := q.store.UpdateTopicStatus(t.ID, string(status), time.Time{}); err != nil {
		logf(q.cfg, "ERROR: Persisting topic %q: %v", t.Subject, err)
	}
}

func (q *TopicQueue) fail(t *Topic) {
	now := time.Now()

	q.mu.Lock()
	t.Status = TopicFailed
	t.FailedAt = now
	q.mu.Unlock()

	if err := q.store.UpdateTopicStatus(t.ID, string(TopicFailed), now); err != nil {
		logf(q.cfg, "ERROR: Persisting topic %q: %v", t.Subject, err)
	}
}

// PopSuccessful removes and returns the highest-priority playable topic,
// or nil when none is ready.
func (q *TopicQueue) PopSuccessful() *Topic {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Topic
	for _, t := range q.topics {
		if t.Status != TopicSuccessful {
			continue
		}
		if best == nil || higherPriority(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil
	}

	delete(q.topics, best.ID)
	delete(q.claimed, best.ID)
	if err := q.store.DeleteTopic(best.ID); err != nil {
		logf(q.cfg, "ERROR: Removing consumed topic %q: %v", best.Subject, err)
	}
	return best
}

// hasLive reports whether any topic can still become (or already is) a round.
func (q *TopicQueue) hasLive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.topics {
		if t.Status != TopicFailed {
			return true
		}
	}
	return false
}

// purge removes failed topics older than the retention window.
func (q *TopicQueue) purge(cutoff time.Time) {
	q.mu.Lock()
	var expired []*Topic
	for _, t := range q.topics {
		if t.Status == TopicFailed && !t.FailedAt.IsZero() && t.FailedAt.Before(cutoff) {
			expired = append(expired, t)
		}
	}
	for _, t := range expired {
		delete(q.topics, t.ID)
		delete(q.claimed, t.ID)
	}
	q.mu.Unlock()

	for _, t := range expired {
		if err := q.store.DeleteTopic(t.ID); err != nil {
			logf(q.cfg, "ERROR: Purging topic %q: %v", t.Subject, err)
		}
		logf(q.cfg, "TOPIC: Purged failed topic %q", t.Subject)
	}
}

// workerLoop claims and advances one topic at a time until ctx is cancelled.
func (q *TopicQueue) workerLoop(ctx context.Context) {
	for {
		t := q.claimNext()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		q.step(ctx, t)
		q.release(t.ID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// monitorLoop keeps a minimum supply of system-seeded topics flowing when
// player submissions dry up.
func (q *TopicQueue) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.hasLive() {
				continue
			}
			subject := seedSubjects[rand.Intn(len(seedSubjects))]
			if _, err := q.Submit(subject, 0, true); err != nil && !errors.Is(err, ErrQueueFull) {
				logf(q.cfg, "ERROR: Seeding topic: %v", err)
			}
		}
	}
}

// purgeLoop removes expired failed topics on a slow cadence.
func (q *TopicQueue) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.purge(time.Now().Add(-q.cfg.topicRetention))
		}
	}
}

// Start launches the worker pool and the monitor and purge loops.
func (q *TopicQueue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.topicWorkers; i++ {
		go q.workerLoop(ctx)
	}
	go q.monitorLoop(ctx)
	go q.purgeLoop(ctx)
}

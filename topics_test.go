package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moderatorFunc func(context.Context, string) (bool, error)

func (f moderatorFunc) Check(ctx context.Context, subject string) (bool, error) {
	return f(ctx, subject)
}

type generatorFunc func(context.Context, string) (*Question, error)

func (f generatorFunc) Generate(ctx context.Context, subject string) (*Question, error) {
	return f(ctx, subject)
}

func allowAll(context.Context, string) (bool, error) { return true, nil }

func generateStub(_ context.Context, subject string) (*Question, error) {
	return &Question{
		Text:    fmt.Sprintf("What about %s?", subject),
		Options: []string{"a", "b", "c", "d"},
		Answer:  "a",
	}, nil
}

func testQueue(t *testing.T, moderator Moderator, generator Generator) (*TopicQueue, *Store) {
	t.Helper()

	cfg := testConfig(t, modeTrivia, 30*time.Second)
	store, err := OpenStore(cfg.database)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q, err := newTopicQueue(cfg, store, moderator, generator)
	require.NoError(t, err)
	return q, store
}

// drain runs pipeline steps until no topic is claimable, like the worker
// pool would.
func drain(q *TopicQueue) {
	for {
		t := q.claimNext()
		if t == nil {
			return
		}
		q.step(context.Background(), t)
		q.release(t.ID)
	}
}

func TestTopicConsumptionOrder(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	_, err := q.Submit("first", 10, false)
	require.NoError(t, err)
	_, err = q.Submit("second", 5, false)
	require.NoError(t, err)
	_, err = q.Submit("third", 0, false)
	require.NoError(t, err)
	_, err = q.Submit("fourth", 10, false)
	require.NoError(t, err)

	drain(q)

	// Points descending; equal bids preserve arrival order.
	var order []string
	for {
		topic := q.PopSuccessful()
		if topic == nil {
			break
		}
		order = append(order, topic.Subject)
	}
	assert.Equal(t, []string{"first", "fourth", "second", "third"}, order)
}

func TestTopicPipelineStages(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	topic, err := q.Submit("space exploration", 0, true)
	require.NoError(t, err)
	assert.Equal(t, TopicPending, topic.Status)

	// Each claim advances exactly one stage.
	claimed := q.claimNext()
	require.Same(t, topic, claimed)
	q.step(context.Background(), claimed)
	q.release(claimed.ID)
	assert.Equal(t, TopicComputing, topic.Status)
	assert.Nil(t, topic.Question)

	claimed = q.claimNext()
	require.Same(t, topic, claimed)
	q.step(context.Background(), claimed)
	q.release(claimed.ID)
	assert.Equal(t, TopicSuccessful, topic.Status)
	require.NotNil(t, topic.Question)
	assert.Equal(t, "a", topic.Question.Answer)
}

func TestTopicModerationReject(t *testing.T) {
	q, _ := testQueue(t,
		moderatorFunc(func(context.Context, string) (bool, error) { return false, nil }),
		generatorFunc(generateStub),
	)

	topic, err := q.Submit("something dubious", 0, false)
	require.NoError(t, err)

	drain(q)

	assert.Equal(t, TopicFailed, topic.Status)
	assert.False(t, topic.FailedAt.IsZero())
	assert.Nil(t, q.claimNext(), "failed topics are terminal, never re-claimed")
	assert.Nil(t, q.PopSuccessful())
}

func TestTopicGenerationFailure(t *testing.T) {
	q, _ := testQueue(t,
		moderatorFunc(allowAll),
		generatorFunc(func(context.Context, string) (*Question, error) {
			return nil, errors.New("model unavailable")
		}),
	)

	topic, err := q.Submit("space exploration", 0, false)
	require.NoError(t, err)

	drain(q)

	assert.Equal(t, TopicFailed, topic.Status)
}

func TestTopicClaimExclusive(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	topic, err := q.Submit("space exploration", 0, false)
	require.NoError(t, err)

	first := q.claimNext()
	require.Same(t, topic, first)
	assert.Nil(t, q.claimNext(), "a claimed topic belongs to one worker at a time")

	q.release(first.ID)
	assert.Same(t, topic, q.claimNext(), "released topics are eligible again")
}

func TestTopicQueueFull(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))
	q.cfg.maxTopics = 2

	_, err := q.Submit("one", 0, false)
	require.NoError(t, err)
	_, err = q.Submit("two", 0, false)
	require.NoError(t, err)

	_, err = q.Submit("three", 0, false)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTopicSubmitValidation(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	_, err := q.Submit("", 0, false)
	assert.ErrorIs(t, err, ErrEmptySubject)
}

func TestFailedTopicPurge(t *testing.T) {
	q, store := testQueue(t,
		moderatorFunc(func(context.Context, string) (bool, error) { return false, nil }),
		generatorFunc(generateStub),
	)

	topic, err := q.Submit("rejected", 0, false)
	require.NoError(t, err)
	drain(q)
	require.Equal(t, TopicFailed, topic.Status)

	// Within the retention window the topic is kept.
	q.purge(time.Now().Add(-time.Minute))
	assert.True(t, q.hasLive() == false && len(q.topics) == 1)

	// Past the window it disappears from queue and store.
	q.purge(time.Now().Add(time.Minute))
	assert.Empty(t, q.topics)

	records, err := store.ListTopics()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTopicQueueReload(t *testing.T) {
	q, store := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	_, err := q.Submit("survivor", 7, false)
	require.NoError(t, err)
	drain(q)

	reloaded, err := newTopicQueue(q.cfg, store, moderatorFunc(allowAll), generatorFunc(generateStub))
	require.NoError(t, err)

	topic := reloaded.PopSuccessful()
	require.NotNil(t, topic)
	assert.Equal(t, "survivor", topic.Subject)
	assert.Equal(t, 7, topic.Points)
	require.NotNil(t, topic.Question)
	assert.Equal(t, "a", topic.Question.Answer)
}

func TestSeedingWhenQueueRunsDry(t *testing.T) {
	q, _ := testQueue(t, moderatorFunc(allowAll), generatorFunc(generateStub))

	assert.False(t, q.hasLive())

	_, err := q.Submit(seedSubjects[0], 0, true)
	require.NoError(t, err)
	assert.True(t, q.hasLive())

	drain(q)
	assert.True(t, q.hasLive(), "a successful topic still counts as live supply")

	require.NotNil(t, q.PopSuccessful())
	assert.False(t, q.hasLive())
}

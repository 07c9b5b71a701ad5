package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/medchat/internal/audit"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/db"
)

type acker struct {
	acked, nacked int
}

func (a *acker) Ack(uint64, bool) error { a.acked++; return nil }
func (a *acker) Nack(uint64, bool, bool) error { a.nacked++; return nil }
func (a *acker) Reject(uint64, bool) error { a.nacked++; return nil }

type retryRecorder struct {
	keys []string
	msgs []amqp.Publishing
}

func (r *retryRecorder) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	r.keys = append(r.keys, key)
	r.msgs = append(r.msgs, msg)
	return nil
}

func delivery(t *testing.T, a *acker, id string, ev chat.TurnEvent) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: a, MessageId: id, Body: body}
}

func newWorker(t *testing.T) (*worker, *audit.Repo, *retryRecorder) {
	t.Helper()
	gdb, err := db.Connect("sqlite:file:"+t.Name()+"?mode=memory&cache=shared", &audit.TurnRecord{})
	require.NoError(t, err)
	repo := audit.NewRepo(gdb)
	rr := &retryRecorder{}
	return &worker{repo: repo, retry: rr, queue: "turn_events"}, repo, rr
}

func TestWorker_StoresAndAcks(t *testing.T) {
	w, repo, rr := newWorker(t)
	a := &acker{}
	ev := chat.TurnEvent{SessionID: "s1", ConversationID: "c1", Outcome: chat.OutcomeAnswered, At: time.Now()}

	w.process(context.Background(), log.NewEntry(log.StandardLogger()), delivery(t, a, "01HZX00000000000000000000A", ev))
	w.process(context.Background(), log.NewEntry(log.StandardLogger()), delivery(t, a, "01HZX00000000000000000000A", ev))

	assert.Equal(t, 2, a.acked)
	assert.Empty(t, rr.keys)
	got, err := repo.ListBySession(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWorker_BadMessageDeadLetters(t *testing.T) {
	w, _, _ := newWorker(t)
	a := &acker{}
	w.process(context.Background(), log.NewEntry(log.StandardLogger()), amqp.Delivery{Acknowledger: a, Body: []byte("{")})
	assert.Equal(t, 1, a.nacked)
	assert.Equal(t, 0, a.acked)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(amqp.Delivery{}))
	assert.Equal(t, 2, retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: int32(2)}}))
	assert.Equal(t, 3, retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: int64(3)}}))
}

func TestWorker_RequeueCarriesAttempt(t *testing.T) {
	w, _, rr := newWorker(t)
	d := amqp.Delivery{MessageId: "m1", Body: []byte("{}"), Headers: amqp.Table{"keep": "me"}}
	require.NoError(t, w.requeue(context.Background(), d, 2))

	require.Len(t, rr.msgs, 1)
	assert.Equal(t, "turn_events.retry", rr.keys[0])
	assert.Equal(t, int32(2), rr.msgs[0].Headers[retryHeader])
	assert.Equal(t, "me", rr.msgs[0].Headers["keep"])
	assert.Equal(t, "5000", rr.msgs[0].Expiration)
	assert.Equal(t, "m1", rr.msgs[0].MessageId)
}

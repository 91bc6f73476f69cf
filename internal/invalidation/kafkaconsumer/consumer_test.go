package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/invalidation"
)

type fakeApplier struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	upserts   []string
	deletes   []string
}

func (f *fakeApplier) ApplyUpsert(t *model.Token) error {
	f.mu.Lock()
	f.upserts = append(f.upserts, t.ID)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeApplier) ApplyDelete(_ context.Context, ids []string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, ids...)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "token-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func upsertBytes(id string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpUpsert, TS: time.Now().UTC(),
		Token: &model.Token{ID: id, LatE7: 593293000, LngE7: 180686000},
	}
	b, _ := json.Marshal(ev)
	return b
}

func deleteBytes(ids ...string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpDelete, TS: time.Now().UTC(), IDs: ids,
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(a Applier) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "token-invalidation", GroupID: "g"}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), a)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "token-invalidation", Partition: 0, Offset: 10, Value: upsertBytes("a")}
	ch <- &sarama.ConsumerMessage{Topic: "token-invalidation", Partition: 0, Offset: 11, Value: deleteBytes("a", "b")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(fa.upserts) != 1 || fa.upserts[0] != "a" {
		t.Fatalf("upserts=%v want [a]", fa.upserts)
	}
	if len(fa.deletes) != 2 {
		t.Fatalf("deletes=%v want [a b]", fa.deletes)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fa := &fakeApplier{}
	fa.failFirst.Store(true)
	c := newConsumerForTest(fa)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "token-invalidation", Partition: 0, Offset: 5, Value: upsertBytes("a")}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMalformedEventSkippedAndCommitted(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "token-invalidation", Partition: 0, Offset: 1,
		Value: []byte(`{"version":1,"op":"truncate","ts":"2026-03-01T12:00:00Z"}`)}
	ch <- &sarama.ConsumerMessage{Topic: "token-invalidation", Partition: 0, Offset: 2, Value: upsertBytes("ok")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 {
		t.Fatalf("bad event must be skipped, not wedge the partition; marked=%v", s.marked)
	}
	if len(fa.upserts) != 1 || fa.upserts[0] != "ok" {
		t.Fatalf("upserts=%v want [ok]", fa.upserts)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)
	g := &groupHandler{process: c.ProcessOne}

	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: upsertBytes("p0-1")}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: upsertBytes("p0-2")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: upsertBytes("p1-1")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: upsertBytes("p1-2")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

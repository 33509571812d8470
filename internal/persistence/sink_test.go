package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

type fakeStore struct {
	name string
	fail error
	gate chan struct{}

	mu  sync.Mutex
	ops []string
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) CreateTrade(_ context.Context, rec model.TradeRecord) error {
	return f.record("create:" + rec.ID)
}

func (f *fakeStore) FinishTrade(_ context.Context, fin model.TradeFinish) error {
	return f.record("finish:" + fin.ID)
}

func (f *fakeStore) record(op string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.fail
}

func (f *fakeStore) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func closeSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestSink_AppliesInOrderToEveryStore(t *testing.T) {
	a := &fakeStore{name: "a"}
	b := &fakeStore{name: "b"}
	s := NewSink(0, a, b)

	s.Create(model.TradeRecord{ID: "t1"})
	s.Finish(model.TradeFinish{ID: "t1"})
	s.Create(model.TradeRecord{ID: "t2"})
	closeSink(t, s)

	want := []string{"create:t1", "finish:t1", "create:t2"}
	assert.Equal(t, want, a.Ops())
	assert.Equal(t, want, b.Ops())
	assert.Equal(t, []string{"a", "b"}, s.Stores())
}

func TestSink_FailuresAreReportedNotPropagated(t *testing.T) {
	bad := &fakeStore{name: "bad", fail: errors.New("disk full")}
	good := &fakeStore{name: "good"}
	s := NewSink(4, bad, good)

	var mu sync.Mutex
	results := map[string]error{}
	s.OnWrite = func(store, op string, err error) {
		mu.Lock()
		results[store+"/"+op] = err
		mu.Unlock()
	}

	s.Create(model.TradeRecord{ID: "t1"})
	closeSink(t, s)

	assert.Error(t, results["bad/create"])
	assert.NoError(t, results["good/create"])
	assert.Equal(t, []string{"create:t1"}, good.Ops())
}

func TestSink_FullQueueDrops(t *testing.T) {
	gate := make(chan struct{})
	st := &fakeStore{name: "slow", gate: gate}
	s := NewSink(1, st)

	var dropped int
	var mu sync.Mutex
	s.OnDrop = func(string) {
		mu.Lock()
		dropped++
		mu.Unlock()
	}

	s.Create(model.TradeRecord{ID: "t1"}) // picked up by the worker, blocked on gate
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
	s.Create(model.TradeRecord{ID: "t2"}) // fills the queue
	s.Create(model.TradeRecord{ID: "t3"}) // dropped

	close(gate)
	closeSink(t, s)

	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"create:t1", "create:t2"}, st.Ops())
}

func TestSink_DropsAfterClose(t *testing.T) {
	st := &fakeStore{name: "s"}
	s := NewSink(2, st)
	closeSink(t, s)
	closeSink(t, s)

	dropped := false
	s.OnDrop = func(string) { dropped = true }
	s.Finish(model.TradeFinish{ID: "late"})

	assert.True(t, dropped)
	assert.Empty(t, st.Ops())
}

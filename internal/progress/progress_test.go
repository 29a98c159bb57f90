package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Counters(t *testing.T) {
	a := NewAggregator()
	a.AddTotals(3, 300)

	a.Publish(Event{Type: ChunkProgress, BytesDelta: 100})
	a.Publish(Event{Type: ChunkDone, BytesDelta: 50})
	a.Publish(Event{Type: FileCompleted, Path: "a"})
	a.Publish(Event{Type: FileFailed, Path: "b"})
	a.Publish(Event{Type: FileSkipped, Path: "c"})

	s := a.Snapshot()
	assert.Equal(t, int64(150), s.BytesTransferred)
	assert.Equal(t, int64(300), s.BytesTotal)
	assert.Equal(t, int64(1), s.FilesDone)
	assert.Equal(t, int64(1), s.FilesFailed)
	assert.Equal(t, int64(1), s.FilesSkipped)
	assert.Equal(t, int64(3), s.FilesTotal)
}

func TestAggregator_PublishNeverBlocks(t *testing.T) {
	a := NewAggregator()

	// No consumer at all: far more events than the buffer holds.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBuffer*10; i++ {
			a.Publish(Event{Type: ChunkProgress, ChunkIndex: i, BytesDelta: 1})
		}
	}()
	<-done

	// Counters saw every event even though most were coalesced away.
	assert.Equal(t, int64(eventBuffer*10), a.Snapshot().BytesTransferred)
	assert.LessOrEqual(t, len(a.events), eventBuffer)
}

func TestAggregator_DropOldestKeepsNewest(t *testing.T) {
	a := NewAggregator()

	total := eventBuffer + 10
	for i := 0; i < total; i++ {
		a.Publish(Event{Type: ChunkProgress, ChunkIndex: i, BytesDelta: 1})
	}
	a.Close()

	var got []int
	for e := range a.Events() {
		got = append(got, e.ChunkIndex)
	}
	require.NotEmpty(t, got)
	// The most recent event survives; the dropped ones are the oldest.
	assert.Equal(t, total-1, got[len(got)-1])
}

func TestAggregator_ConcurrentPublish(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				a.Publish(Event{Type: ChunkProgress, BytesDelta: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8000), a.Snapshot().BytesTransferred)
}

func TestAggregator_StreamEndsAfterClose(t *testing.T) {
	a := NewAggregator()
	a.Publish(Event{Type: JobStarted})
	a.Publish(Event{Type: JobCompleted})
	a.Close()

	var count int
	for range a.Events() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestAggregator_RateFallsBackToRunAverage(t *testing.T) {
	a := NewAggregator()
	a.Publish(Event{Type: ChunkProgress, BytesDelta: 1 << 20})
	s := a.Snapshot()
	assert.Greater(t, s.Rate, 0.0)
}

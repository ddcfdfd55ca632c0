package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

func record(msg string) Record {
	return Record{
		Time:     time.Now(),
		PassID:   "pass-1",
		Kind:     EventApply,
		Resource: v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "web"},
		Message:  msg,
	}
}

func TestBufferedDrainsToDelegate(t *testing.T) {
	mem := &Memory{}
	buf := NewBuffered(mem, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Emit(record("one"))
	buf.Emit(record("two"))

	require.Eventually(t, func() bool {
		return len(mem.Records()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, buf.Drops())
}

func TestBufferedDropsInsteadOfBlocking(t *testing.T) {
	mem := &Memory{}
	buf := NewBuffered(mem, 2)

	// No Run goroutine: the queue fills and further emits must return
	// immediately rather than block the caller.
	for i := 0; i < 5; i++ {
		buf.Emit(record("burst"))
	}
	assert.Equal(t, int64(3), buf.Drops())
}

func TestRunFlushesQueuedRecordsOnCancel(t *testing.T) {
	mem := &Memory{}
	buf := NewBuffered(mem, 8)
	buf.Emit(record("queued"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf.Run(ctx)

	records := mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "queued", records[0].Message)
}

package broker

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestQueueHeadDrop(t *testing.T) {
	is := is.New(t)

	q := newMsgQueue(3)
	for i := 0; i < 5; i++ {
		q.push(Message{QoS: byte(i)})
	}

	is.Equal(q.overflow.Load(), uint64(2))
	is.Equal(len(q.ch), 3)

	// the two oldest messages were dropped, the rest kept their order
	for _, want := range []byte{2, 3, 4} {
		m := <-q.ch
		is.Equal(m.QoS, want)
	}
}

func TestQueuePushNeverBlocks(t *testing.T) {
	is := is.New(t)

	q := newMsgQueue(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.push(Message{QoS: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a full queue")
	}

	is.Equal(q.overflow.Load(), uint64(999))
	is.Equal(len(q.ch), 1)
}

func TestQueuesAreBoundedPerKind(t *testing.T) {
	is := is.New(t)

	d := New(Config{QueueSize: 2, Schema: NewSchema("iotflow")})

	for i := 0; i < 4; i++ {
		d.queues[KindTelemetry].push(Message{})
	}
	d.queues[KindStatus].push(Message{})

	// overload on one kind does not shed messages of another
	is.Equal(d.queues[KindTelemetry].overflow.Load(), uint64(2))
	is.Equal(d.queues[KindStatus].overflow.Load(), uint64(0))
	is.Equal(len(d.queues[KindStatus].ch), 1)
}

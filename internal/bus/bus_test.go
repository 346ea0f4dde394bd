package bus

import (
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"*", "task.t1.event", true},
		{"task.t1", "task.t1", true},
		{"task.t1", "task.t1.event", true},
		{"task.t1", "task.t10.event", false},
		{"task.", "task.t1.event", true},
		{"task.", "system", false},
		{"system", "system", true},
		{"system", "task.t1.event", false},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.filter, tt.topic); got != tt.want {
			t.Fatalf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestTaskTopic(t *testing.T) {
	if got := TaskTopic("t1"); got != "task.t1.event" {
		t.Fatalf("TaskTopic = %q", got)
	}
}

func TestPublishFanOut(t *testing.T) {
	b := NewMessageBus()
	all := b.Subscribe("all", TopicAll)
	one := b.Subscribe("one", "task.t1")
	other := b.Subscribe("other", "task.t2")

	b.Publish(Message{Topic: TaskTopic("t1"), TaskID: "t1", Kind: "log_message"})

	msg := recv(t, all.Ch)
	if msg.Kind != "log_message" {
		t.Fatalf("kind = %q", msg.Kind)
	}
	recv(t, one.Ch)

	select {
	case msg := <-other.Ch:
		t.Fatalf("unexpected message for other task: %+v", msg)
	default:
	}
}

func TestPublishSeqOrdering(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("engine", TopicTaskPrefix)

	for i := 0; i < 5; i++ {
		b.Publish(Message{Topic: TaskTopic("t1"), TaskID: "t1", Kind: "log_message"})
	}
	var last int64
	for i := 0; i < 5; i++ {
		msg := recv(t, sub.Ch)
		if msg.Seq <= last {
			t.Fatalf("seq not increasing: %d after %d", msg.Seq, last)
		}
		last = msg.Seq
	}
	if b.Seq() != 5 {
		t.Fatalf("Seq() = %d, want 5", b.Seq())
	}
}

func TestPublishSetsTimestamp(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s", TopicAll)
	b.Publish(Message{Topic: TopicSystem})
	if msg := recv(t, sub.Ch); msg.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s", TopicAll)
	b.Unsubscribe("s")

	if _, ok := <-sub.Ch; ok {
		t.Fatal("channel not closed")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d", b.SubscriberCount())
	}

	// 退订后发布不 panic
	b.Publish(Message{Topic: TopicSystem})
}

func TestOnPublishBridge(t *testing.T) {
	b := NewMessageBus()
	var got []string
	b.SetOnPublish(func(msg Message) { got = append(got, msg.Topic) })

	b.Publish(Message{Topic: TaskTopic("t1"), Payload: json.RawMessage(`{}`)})
	b.Publish(Message{Topic: TopicSystem})

	if len(got) != 2 || got[0] != "task.t1.event" || got[1] != "system" {
		t.Fatalf("onPublish calls = %v", got)
	}
}

func TestFullChannelDropsInsteadOfBlocking(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("slow", TopicAll)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(sub.Ch)+16; i++ {
			b.Publish(Message{Topic: TopicSystem})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full channel")
	}
}

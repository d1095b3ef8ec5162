package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSubject(t *testing.T) {
	if got := Subject("htzbuild", "abc-123"); got != "htzbuild.sessions.abc-123" {
		t.Fatalf("got %s", got)
	}
	if got := Subject("htzbuild", ""); got != "htzbuild.sessions.unknown" {
		t.Fatalf("got %s", got)
	}
}

func TestEventJSONOmitsEmpty(t *testing.T) {
	b, err := json.Marshal(Event{Session: "s", Profile: "preview", State: "Provisioning", At: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "instance") || strings.Contains(s, "error") {
		t.Fatalf("unexpected fields: %s", s)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
	p.Close()
}

func TestConnectFailure(t *testing.T) {
	if _, err := Connect(Options{URL: "nats://127.0.0.1:1"}, nil); err == nil {
		t.Fatalf("expected connection error")
	}
}

type failingPublisher struct {
	calls  int
	closed bool
}

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("unavailable")
}

func (f *failingPublisher) Close() { f.closed = true }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &failingPublisher{}, &failingPublisher{}
	f := Fanout{a, Nop{}, b}
	if err := f.Publish(context.Background(), Event{Session: "s"}); err == nil {
		t.Fatalf("expected joined error")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d, %d", a.calls, b.calls)
	}
	f.Close()
	if !a.closed || !b.closed {
		t.Fatalf("not all publishers closed")
	}
}

package reply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/jholhewres/replygo/pkg/replygo/platform"
)

func TestSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"no delimiter", "a", []string{"a"}},
		{"no delimiter keeps whitespace", "  padded reply  ", []string{"  padded reply  "}},
		{"basic split", "a&&&b&&&c", []string{"a", "b", "c"}},
		{"whitespace-only piece dropped", "a&&&b&&& &&&c", []string{"a", "b", "c"}},
		{"pieces trimmed", " hi there &&& bye ", []string{"hi there", "bye"}},
		{"delimiters at edges", "&&&a&&&", []string{"a"}},
		{"only delimiters", "&&&&&&", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Segment(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Segment(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// ---------- Dispatcher ----------

// fakeSender records sends in order and can fail a chosen one.
type fakeSender struct {
	sent   []string
	failOn int // 1-based segment to fail, 0 = never
}

func (f *fakeSender) Send(_ context.Context, _ platform.SendContext, text string) error {
	f.sent = append(f.sent, text)
	if f.failOn == len(f.sent) {
		return fmt.Errorf("segment %d rejected", f.failOn)
	}
	return nil
}

func testDispatcher(sender platform.OutboundSender) *Dispatcher {
	return NewDispatcher(sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchOrder(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := testDispatcher(sender)

	err := d.Dispatch(context.Background(), platform.SendContext{}, "one&&&two&&&three")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(sender.sent, want) {
		t.Errorf("sent = %v, want %v in order", sender.sent, want)
	}
}

func TestDispatchVerbatimWithoutDelimiter(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := testDispatcher(sender)

	if err := d.Dispatch(context.Background(), platform.SendContext{}, " single reply "); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != " single reply " {
		t.Errorf("sent = %q, want the text unchanged", sender.sent)
	}
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{failOn: 2}
	d := testDispatcher(sender)

	err := d.Dispatch(context.Background(), platform.SendContext{}, "a&&&b&&&c")
	if err == nil {
		t.Fatal("Dispatch() should return the failed segment's error")
	}
	if len(sender.sent) != 3 {
		t.Errorf("sent %d segments, want all 3 attempted", len(sender.sent))
	}
}

func TestDispatchNothingToSend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := testDispatcher(sender)

	if err := d.Dispatch(context.Background(), platform.SendContext{}, ""); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %v, want no sends for empty reply", sender.sent)
	}
}

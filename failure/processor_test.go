package failure

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
)

// captureSink is a minimal logr.LogSink that records the last Error call,
// just enough to assert NewLogProcessor wires Context through correctly.
type captureSink struct {
	err error
	msg string
	kv  []interface{}
}

func (s *captureSink) Init(logr.RuntimeInfo)                         {}
func (s *captureSink) Enabled(level int) bool                        { return true }
func (s *captureSink) Info(level int, msg string, kv ...interface{}) {}
func (s *captureSink) Error(err error, msg string, kv ...interface{}) {
	s.err = err
	s.msg = msg
	s.kv = kv
}
func (s *captureSink) WithValues(kv ...interface{}) logr.LogSink { return s }
func (s *captureSink) WithName(name string) logr.LogSink         { return s }

func TestLogProcessorNotifyLogsTheContext(t *testing.T) {
	sink := &captureSink{}
	p := NewLogProcessor(logr.New(sink))

	cause := errors.New("retry budget exhausted")
	p.Notify(Context{Tree: "primary", Group: 1, MetaPageID: 1, Retries: 1000, Err: cause})

	if sink.err != cause {
		t.Fatalf("expected the notified error to be logged, got %v", sink.err)
	}

	found := false
	for i := 0; i+1 < len(sink.kv); i += 2 {
		if sink.kv[i] == "tree" && sink.kv[i+1] == "primary" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the tree name to appear among the logged fields")
	}
}

// notifyCounter doubles as a sanity check that the
// Processor interface is usable with a trivial stand-in, the way
// btree.Config.Failure is expected to be supplied by embedders who don't
// want logging at all.
type notifyCounter struct{ n int }

func (c *notifyCounter) Notify(ctx Context) { c.n++ }

func TestProcessorInterfaceIsSatisfiedByASimpleCounter(t *testing.T) {
	var p Processor = &notifyCounter{}
	p.Notify(Context{Tree: "t"})
	p.Notify(Context{Tree: "t"})

	if p.(*notifyCounter).n != 2 {
		t.Fatalf("expected 2 notifications, got %d", p.(*notifyCounter).n)
	}
}

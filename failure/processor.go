// Package failure provides the notification channel the tree core uses to
// report lock-retry exhaustion (§7 Error Handling Design). Detected
// structural corruption is returned to the caller as an error and is not
// passed to a Processor. Built fresh —
// the teacher has no equivalent channel; btree.go simply returns an error
// up the call stack and stops. The reference Processor here follows the
// teacher's logging idiom (structured key/value fields) rather than
// inventing a new reporting format.
package failure

import "github.com/go-logr/logr"

// Context describes the operation in progress when a Processor is notified.
type Context struct {
	Tree       string
	Group      uint32
	MetaPageID uint64
	Retries    int
	Err        error
}

// Processor is notified of conditions the core cannot resolve on its own.
// The core always returns the triggering error to its caller as well;
// Processor.Notify is a side channel for operators, not a recovery path.
type Processor interface {
	Notify(ctx Context)
}

// LogProcessor is the reference Processor: it logs at error level and does
// nothing else.
type LogProcessor struct {
	Log logr.Logger
}

// NewLogProcessor returns a Processor that logs to log.
func NewLogProcessor(log logr.Logger) *LogProcessor {
	return &LogProcessor{Log: log}
}

func (p *LogProcessor) Notify(ctx Context) {
	p.Log.Error(ctx.Err, "btree failure",
		"tree", ctx.Tree,
		"group", ctx.Group,
		"metaPage", ctx.MetaPageID,
		"retries", ctx.Retries,
	)
}

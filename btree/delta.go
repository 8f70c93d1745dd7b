package btree

import (
	"github.com/intellect4all/bptree-engine/wal"
)

// DeltaKind tags a WAL record with the logical mutation it describes. The
// payload carried alongside each kind is the page's physical after-image,
// exactly as the teacher's WAL logs whole-page rewrites. New's WAL replay
// copies payloads back onto their pages without looking at the kind; the
// kind exists so operators can tell, without decoding page bytes, what
// class of mutation produced a record.
type DeltaKind string

const (
	DeltaInsert            DeltaKind = "Insert"
	DeltaReplace           DeltaKind = "Replace"
	DeltaRemove            DeltaKind = "Remove"
	DeltaSplitExistingPage DeltaKind = "SplitExistingPage"
	DeltaFixCount          DeltaKind = "FixCount"
	DeltaFixLeftmostChild  DeltaKind = "FixLeftmostChild"
	DeltaFixRemoveID       DeltaKind = "FixRemoveId"
	DeltaNewRootInit       DeltaKind = "NewRootInit"
	DeltaMetaAddRoot       DeltaKind = "MetaAddRoot"
	DeltaMetaCutRoot       DeltaKind = "MetaCutRoot"
	DeltaMetaInitRoot      DeltaKind = "MetaInitRoot"
)

// logDelta appends the current after-image of the page identified by pageID
// to the WAL, tagged with kind, whenever a WAL is configured; the store's
// NeedsWALDelta policy is not consulted. It is the one place the core
// appends to the external WAL collaborator.
func (t *Tree) logDelta(pageBuf []byte, pageID uint64, kind DeltaKind) error {
	if t.cfg.WAL == nil {
		return nil
	}
	payload := append([]byte(nil), pageBuf...)
	t.cfg.Stats.WALAppends.Add(1)
	return t.cfg.WAL.Append(wal.Record{
		GroupID: t.cfg.Group,
		PageID:  pageID,
		Kind:    string(kind),
		Payload: payload,
	})
}

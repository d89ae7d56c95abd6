package wal

import (
	"fmt"
	"sort"

	"github.com/nainya/embedkv/pkg/device"
)

// Recovery replays a log's ring files against a backing device after
// an unclean shutdown (spec.md §4.6/§6).
type Recovery struct {
	basePath string
}

func NewRecovery(basePath string) *Recovery {
	return &Recovery{basePath: basePath}
}

// Stats summarizes what a recovery pass did.
type Stats struct {
	TotalEntries    int
	CommittedTxns   int
	AbortedTxns     int
	DanglingTxns    int // started, neither committed nor aborted
	ImagesReplayed  int
	ResizesReplayed int
	CheckpointLSN   uint64
}

// Recover reads both ring files, discards anything at or before the
// last checkpoint, redoes file resizes and the after-images of every
// committed transaction, then undoes every dangling transaction (one
// that started but never reached a commit or abort marker) by
// replaying its before-images in reverse LSN order (spec.md §4.6: "for
// each [transaction] that does not [have a commit marker], apply the
// corresponding before-images in reverse"). The undo pass is needed
// because a page dirtied by an in-flight transaction can reach the
// data file before a crash — the cache's write-through mode and FlushAll both
// flush dirty pages without regard to whether their owning
// transaction has committed — so recovery cannot assume an uncommitted
// transaction's writes never left the WAL.
func (r *Recovery) Recover(dev device.Device) (*Stats, error) {
	entries, err := readRingFiles(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("wal: recovery read: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })

	stats := &Stats{TotalEntries: len(entries)}

	var checkpointLSN uint64
	for _, e := range entries {
		if e.Type == EntryCheckpoint && e.LSN > checkpointLSN {
			checkpointLSN = e.LSN
		}
	}
	stats.CheckpointLSN = checkpointLSN

	committed := map[uint64]bool{}
	aborted := map[uint64]bool{}
	started := map[uint64]bool{}
	for _, e := range entries {
		if e.LSN <= checkpointLSN {
			continue
		}
		switch e.Type {
		case EntryCommit:
			committed[e.TxnID] = true
		case EntryAbort:
			aborted[e.TxnID] = true
		case EntryBeforeImage, EntryAfterImage:
			started[e.TxnID] = true
		}
	}
	stats.CommittedTxns = len(committed)
	stats.AbortedTxns = len(aborted)
	dangling := map[uint64]bool{}
	for txn := range started {
		if !committed[txn] && !aborted[txn] {
			dangling[txn] = true
		}
	}
	stats.DanglingTxns = len(dangling)

	for _, e := range entries {
		if e.LSN <= checkpointLSN {
			continue
		}
		if e.Type == EntryFileResize {
			if err := dev.Truncate(e.ResizeTarget()); err != nil {
				return stats, fmt.Errorf("wal: recovery resize: %w", err)
			}
			stats.ResizesReplayed++
		}
	}

	for _, e := range entries {
		if e.LSN <= checkpointLSN || e.Type != EntryAfterImage {
			continue
		}
		if e.TxnID != 0 && !committed[e.TxnID] {
			continue
		}
		if err := dev.WriteAt(int64(e.PageOffset), e.Data); err != nil {
			return stats, fmt.Errorf("wal: recovery redo at %d: %w", e.PageOffset, err)
		}
		stats.ImagesReplayed++
	}

	var undo []*Entry
	for _, e := range entries {
		if e.LSN <= checkpointLSN || e.Type != EntryBeforeImage {
			continue
		}
		if !dangling[e.TxnID] {
			continue
		}
		undo = append(undo, e)
	}
	sort.Slice(undo, func(i, j int) bool { return undo[i].LSN > undo[j].LSN })
	for _, e := range undo {
		if err := dev.WriteAt(int64(e.PageOffset), e.Data); err != nil {
			return stats, fmt.Errorf("wal: recovery undo at %d: %w", e.PageOffset, err)
		}
		stats.ImagesReplayed++
	}

	if err := dev.Flush(); err != nil {
		return stats, fmt.Errorf("wal: recovery flush: %w", err)
	}
	return stats, nil
}

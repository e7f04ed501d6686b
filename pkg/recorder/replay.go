package recorder

import (
	"fmt"
	"sort"

	"github.com/saworbit/fileloop/pkg/delta"
)

// Snapshot is a replayed entry with its reconstructed content.
type Snapshot struct {
	Entry
	Content  []byte
	Verified bool
}

// Replay reconstructs each entry's full content by applying the delta chain
// of its path. Removes yield an empty, verified snapshot.
func Replay(entries []Entry) ([]Snapshot, error) {
	current := make(map[string][]byte)
	snaps := make([]Snapshot, 0, len(entries))

	for _, e := range entries {
		if e.Op == OpRemove {
			delete(current, e.Path)
			snaps = append(snaps, Snapshot{Entry: e, Verified: true})
			continue
		}

		codec, err := delta.ForName(e.Encoding)
		if err != nil {
			return nil, fmt.Errorf("entry %s@%d: %w", e.Path, e.Timestamp, err)
		}

		payload, err := decompress(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("decompress %s@%d: %w", e.Path, e.Timestamp, err)
		}

		content, err := codec.Decode(current[e.Path], payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s@%d: %w", e.Path, e.Timestamp, err)
		}

		ok, err := VerifyDigest(content, e.Digest)
		if err != nil {
			return nil, err
		}

		current[e.Path] = content
		snaps = append(snaps, Snapshot{Entry: e, Content: content, Verified: ok})
	}

	return snaps, nil
}

// Audit summarizes a replayed session against the generator's lifecycle:
// every target is created, written at least once, then removed, one at a time.
type Audit struct {
	Entries     int
	Lifecycles  int      // paths observed from creation through a write to removal
	MissingEdit []string // paths removed without a write since creation, in removal order
	Incomplete  []string // paths still present at the end, sorted
	Mismatches  int      // snapshots whose digest did not verify
	MaxPresent  int      // most files present at once
}

// AuditSnapshots builds an Audit from replayed snapshots.
func AuditSnapshots(snaps []Snapshot) Audit {
	a := Audit{Entries: len(snaps)}
	present := make(map[string]bool)
	edited := make(map[string]bool)

	for _, s := range snaps {
		if !s.Verified {
			a.Mismatches++
		}

		switch s.Op {
		case OpRemove:
			if !present[s.Path] {
				continue
			}
			if edited[s.Path] {
				a.Lifecycles++
			} else {
				a.MissingEdit = append(a.MissingEdit, s.Path)
			}
			delete(present, s.Path)
			delete(edited, s.Path)
		case OpCreate:
			edited[s.Path] = false
			present[s.Path] = true
		default:
			edited[s.Path] = true
			present[s.Path] = true
		}

		if len(present) > a.MaxPresent {
			a.MaxPresent = len(present)
		}
	}

	for p := range present {
		a.Incomplete = append(a.Incomplete, p)
	}
	sort.Strings(a.Incomplete)
	return a
}

// Clean reports whether the audit found no mismatches, no skipped edits, no
// leftovers and never more than one file at a time.
func (a Audit) Clean() bool {
	return a.Mismatches == 0 && len(a.MissingEdit) == 0 && len(a.Incomplete) == 0 && a.MaxPresent <= 1
}

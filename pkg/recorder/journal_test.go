package recorder

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/saworbit/fileloop/internal/metrics"
	"github.com/saworbit/fileloop/pkg/config"
)

func testRecorderConfig(codec string) config.RecorderConfig {
	cfg := config.DefaultConfig().Recorder
	cfg.Delta = codec
	return cfg
}

func openTestJournal(t *testing.T, dir, codec string) *Journal {
	t.Helper()

	j, err := Open(dir, testRecorderConfig(codec))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return j
}

const (
	createdContent = "This is a test file created at 2026-10-16 10:00:00.000000\n"
	editedContent  = createdContent + "Edited at 2026-10-16 10:00:02.000000\n"
)

func TestJournalAppendAndReplay(t *testing.T) {
	for _, codec := range []string{"bsdiff", "full"} {
		t.Run(codec, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "state")
			j := openTestJournal(t, dir, codec)

			session, err := j.StartSession("/tmp/loop_test")
			if err != nil {
				t.Fatalf("StartSession() error = %v", err)
			}

			steps := []struct {
				op   string
				data string
				want bool
			}{
				{OpCreate, "", true},
				{OpWrite, createdContent, true},
				{OpWrite, createdContent, false}, // unchanged
				{OpWrite, editedContent, true},
				{OpRemove, "", true},
			}
			for i, s := range steps {
				got, err := j.Append(s.op, "file_1.txt", []byte(s.data))
				if err != nil {
					t.Fatalf("step %d Append() error = %v", i, err)
				}
				if got != s.want {
					t.Errorf("step %d Append() = %v, want %v", i, got, s.want)
				}
			}

			if err := j.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			ro, err := OpenReadOnly(dir, testRecorderConfig(codec))
			if err != nil {
				t.Fatalf("OpenReadOnly() error = %v", err)
			}
			defer ro.Close()

			entries, err := ro.Entries(session.ID)
			if err != nil {
				t.Fatalf("Entries() error = %v", err)
			}

			var ops []string
			for _, e := range entries {
				ops = append(ops, e.Op)
			}
			if diff := cmp.Diff([]string{OpCreate, OpWrite, OpWrite, OpRemove}, ops); diff != "" {
				t.Fatalf("ops mismatch (-want +got):\n%s", diff)
			}

			if entries[1].Encoding != "full" {
				t.Errorf("first non-empty version encoding = %s, want full", entries[1].Encoding)
			}
			if entries[2].Encoding != codec {
				t.Errorf("second version encoding = %s, want %s", entries[2].Encoding, codec)
			}
			if entries[2].Size != len(editedContent) {
				t.Errorf("size = %d, want %d", entries[2].Size, len(editedContent))
			}

			snaps, err := Replay(entries)
			if err != nil {
				t.Fatalf("Replay() error = %v", err)
			}

			wantContent := []string{"", createdContent, editedContent, ""}
			for i, s := range snaps {
				if !s.Verified {
					t.Errorf("snapshot %d did not verify", i)
				}
				if !bytes.Equal(s.Content, []byte(wantContent[i])) {
					t.Errorf("snapshot %d content = %q, want %q", i, s.Content, wantContent[i])
				}
			}

			audit := AuditSnapshots(snaps)
			if !audit.Clean() || audit.Lifecycles != 1 {
				t.Errorf("unexpected audit: %+v", audit)
			}
		})
	}
}

func TestJournalAppendSetsDeltaRatio(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), "full")
	if _, err := j.StartSession(t.TempDir()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	content := bytes.Repeat([]byte(createdContent), 50)
	if _, err := j.Append(OpCreate, "file_1.txt", content); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got := testutil.ToFloat64(metrics.JournalDeltaRatio.WithLabelValues("full"))
	if got <= 0 || got >= 1 {
		t.Errorf("delta ratio for repetitive content = %v, want in (0, 1)", got)
	}
}

func TestJournalAppendWithoutSession(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), "bsdiff")
	defer j.Close()

	if _, err := j.Append(OpCreate, "x", []byte("x")); err == nil {
		t.Fatal("expected error appending without a session")
	}
}

func TestJournalSessions(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), "bsdiff")
	defer j.Close()

	base := time.Unix(1760000000, 0)
	tick := 0
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := j.StartSession("/a")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := j.Append(OpCreate, "one.txt", []byte("1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	second, err := j.StartSession("/b")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := j.Append(OpCreate, "two.txt", []byte("2")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	sessions, err := j.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Fatalf("Sessions() = %+v, want [%s %s]", sessions, first.ID, second.ID)
	}

	all, err := j.Entries("")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Entries(\"\") = %d entries, want 2", len(all))
	}

	only, err := j.Entries(second.ID)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(only) != 1 || only[0].Path != "two.txt" {
		t.Errorf("Entries(second) = %+v", only)
	}
}

func TestJournalTimestampsStrictlyIncrease(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), "full")
	defer j.Close()

	fixed := time.Unix(1760000000, 0)
	j.now = func() time.Time { return fixed }

	if _, err := j.StartSession("/r"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := j.Append(OpCreate, "f", []byte{byte(i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := j.Entries("")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp <= entries[i-1].Timestamp {
			t.Fatalf("timestamps not increasing: %d then %d", entries[i-1].Timestamp, entries[i].Timestamp)
		}
	}
}

func TestOpenRejectsUnknownCodec(t *testing.T) {
	if _, err := Open(t.TempDir(), testRecorderConfig("xdelta")); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

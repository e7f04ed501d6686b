package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"github.com/saworbit/fileloop/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Recorder feeds fsnotify events under a root directory into a Journal.
type Recorder struct {
	root    string
	journal *Journal
	watcher *fsnotify.Watcher
	log     *logrus.Entry
}

// NewRecorder creates root if needed, watches it recursively and starts a new
// journal session. Events are only consumed once Run is called.
func NewRecorder(root string, journal *Journal, logger *logrus.Entry) (*Recorder, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal is not initialized")
	}
	if logger == nil {
		logger = logrus.WithField("component", "recorder")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := addWatchRecursive(watcher, absRoot); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", absRoot, err)
	}

	session, err := journal.StartSession(absRoot)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{"root": absRoot, "session": session.ID}).Info("recording")

	return &Recorder{
		root:    absRoot,
		journal: journal,
		watcher: watcher,
		log:     logger.WithField("session", session.ID),
	}, nil
}

// Run consumes events until ctx is done or the watcher is closed.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			r.handle(evt)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("watcher error")
		}
	}
}

func (r *Recorder) handle(evt fsnotify.Event) {
	path := evt.Name
	if rel, err := filepath.Rel(r.root, evt.Name); err == nil {
		path = filepath.ToSlash(rel)
	}

	var op string
	var data []byte

	switch {
	case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpRemove
	case evt.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(evt.Name)
		if err != nil {
			r.log.WithField("path", path).Debug("vanished before read")
			return
		}
		if info.IsDir() {
			if evt.Op&fsnotify.Create != 0 {
				if err := r.watcher.Add(evt.Name); err != nil {
					r.log.WithError(err).WithField("path", path).Warn("cannot watch new directory")
				}
			}
			return
		}

		data, err = os.ReadFile(evt.Name)
		if err != nil {
			r.log.WithField("path", path).Debug("vanished before read")
			return
		}

		op = OpWrite
		if evt.Op&fsnotify.Create != 0 {
			op = OpCreate
		}
	default:
		return
	}

	written, err := r.journal.Append(op, path, data)
	if err != nil {
		r.log.WithError(err).WithField("path", path).Error("journal append failed")
		return
	}
	if written {
		metrics.ObserveJournal(op)
		r.log.WithFields(logrus.Fields{"op": op, "path": path, "size": len(data)}).Debug("journaled")
	}
}

// Close stops watching. The journal is left open for the caller.
func (r *Recorder) Close() error {
	var result *multierror.Error
	if err := r.watcher.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

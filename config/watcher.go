// Copyright 2024 The cloudsync Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/fsnotify/fsnotify.v1"
)

// Watcher re-parses the config file on every write event and publishes
// the new value through onReload. Fields that affect resumability
// (key labels, interval size) are read once at process start by the
// caller and intentionally never re-read from a reloaded Config:
// changing them invalidates any persisted progress, so they require a
// restart.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger log.Logger
	path   string
	done   chan struct{}
}

// NewWatcher starts watching path for writes. onReload is invoked from a
// background goroutine with the freshly parsed Config; parse errors are
// logged and the previous Config keeps being used.
func NewWatcher(path string, logger log.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: creating fsnotify watcher")
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "config: watching %s", path)
	}

	w := &Watcher{fsw: fsw, logger: logger, path: path, done: make(chan struct{})}
	go w.loop(onReload)
	return w, nil
}

func (w *Watcher) loop(onReload func(*Config)) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !exists(w.path) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				level.Warn(w.logger).Log("msg", "config reload failed, keeping previous configuration", "err", err)
				continue
			}
			level.Info(w.logger).Log("msg", "configuration reloaded", "path", w.path)
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			level.Warn(w.logger).Log("msg", "config watcher error", "err", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

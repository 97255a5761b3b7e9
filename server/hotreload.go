package server

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// EnableHotReload watches files and recycles the pool whenever one of them
// changes, sizing the new pool with workers(). Files whose directory does
// not exist are skipped.
func (s *Server) EnableHotReload(files []string, workers func() int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	targets := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		dir := filepath.Dir(abs)
		if _, err := os.Stat(dir); err != nil {
			log.Debug().Str("component", "hotreload").Str("dir", dir).Msg("skipping missing directory")
			continue
		}
		if _, ok := dirs[dir]; !ok {
			if err := w.Add(dir); err != nil {
				w.Close()
				return err
			}
			dirs[dir] = struct{}{}
		}
		targets[abs] = struct{}{}
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.watcher = w
	s.mu.Unlock()

	go s.watch(w, targets, workers)
	return nil
}

func (s *Server) watch(w *fsnotify.Watcher, targets map[string]struct{}, workers func() int) {
	logger := log.With().Str("component", "hotreload").Logger()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[name]; !ok {
				continue
			}

			logger.Info().Str("file", name).Str("op", ev.Op.String()).Msg("change detected")
			if err := s.Recycle(workers()); err != nil {
				logger.Warn().Err(err).Msg("recycle failed")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

package storage

import (
	"log/slog"
	"time"
)

// startBackgroundWorkers starts the periodic snapshot saver
func (s *MemoryStore) startBackgroundWorkers() {
	if !s.backgroundSave || s.snapshotFile == "" || s.saveInterval <= 0 {
		return
	}

	s.backgroundWg.Add(1)
	go func() {
		defer s.backgroundWg.Done()
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !s.dirty.Load() {
					continue
				}
				if err := s.SaveSnapshot(s.snapshotFile); err != nil {
					slog.Default().Error("background snapshot failed", "file", s.snapshotFile, "error", err)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// stopBackgroundWorkers stops the saver and waits for it to exit
func (s *MemoryStore) stopBackgroundWorkers() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.backgroundWg.Wait()
}

package chain

import "context"

// Shutdown marks the engine closed, flushing and — depending on the
// configured BackupMode — backing up the redo log before closing it.
// Per spec.md §4.5: Full or Rotating modes trigger a flush and, for
// Full, a copy of active segments to backup storage.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isShutdown {
		return nil
	}
	e.isShutdown = true

	switch e.backupMode {
	case BackupFull:
		if err := e.log.Backup(ctx, true); err != nil {
			return err
		}
	case BackupRotating:
		if err := e.log.Backup(ctx, false); err != nil {
			return err
		}
	}

	for key, set := range e.listeners {
		for _, l := range set {
			closeListenerChan(l)
		}
		delete(e.listeners, key)
	}

	return e.log.Close()
}

// IsShutdown reports whether Shutdown has already run.
func (e *Engine) IsShutdown() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isShutdown
}

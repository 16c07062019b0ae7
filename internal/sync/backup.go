package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spectile/fieldsync/internal/logger"
	"github.com/spectile/fieldsync/internal/store"
)

// backupConflict saves a local pending copy that a pull is about to
// replace with the server's authoritative version. Files land in the
// conflicts directory as activity_{clientID}_{timestamp}.json.
func (e *Engine) backupConflict(act store.Activity) error {
	if e.conflictsDir == "" {
		return nil
	}

	if err := os.MkdirAll(e.conflictsDir, 0755); err != nil {
		return fmt.Errorf("failed to create conflicts directory: %w", err)
	}

	data, err := json.MarshalIndent(act, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("activity_%s_%s.json", act.ClientID, timestamp)
	path := filepath.Join(e.conflictsDir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write conflict file: %w", err)
	}

	logger.Info("sync: backed up superseded local copy to %s", path)
	return nil
}

package run

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// NewID returns a run id of the form YYYYMMDD-HHMMSS-<6 hex>.
func NewID(now time.Time) (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), suffix), nil
}

// Dir returns the working directory for a run under stateDir.
func Dir(stateDir, runID string) string {
	return filepath.Join(stateDir, "runs", runID)
}

func randomHex(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

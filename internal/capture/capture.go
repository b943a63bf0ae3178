// Package capture records inbound webhook deliveries as fixture files.
// Captured files land in <dir>/<session>/<category>-<seq>.json, the layout
// used under testdata/.
package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// envCaptureDir overrides the configured directory.
const envCaptureDir = "WORLDWEAVER_CAPTURE_DIR"

var (
	sessionID  = time.Now().Format("20060102-150405")
	captureSeq uint64

	mu         sync.RWMutex
	captureDir string
)

// Enable turns capture on, writing below dir. The environment variable wins
// when set. An empty result leaves capture off.
func Enable(dir string) {
	if env := os.Getenv(envCaptureDir); env != "" {
		dir = env
	}
	mu.Lock()
	captureDir = dir
	mu.Unlock()
	if dir != "" {
		log.Info().Str("dir", filepath.Join(dir, sessionID)).Msg("Capturing webhook deliveries")
	}
}

// Disable turns capture off.
func Disable() {
	mu.Lock()
	captureDir = ""
	mu.Unlock()
}

// Enabled reports whether capture is currently active.
func Enabled() bool {
	return dir() != ""
}

func dir() string {
	mu.RLock()
	defer mu.RUnlock()
	return captureDir
}

// Category turns a webhook type such as "cast.created" into a file prefix.
func Category(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "-", "/", "-", " ", "-").Replace(eventType)
}

// WriteJSON stores a raw JSON body, re-indented when it parses. It returns
// the written path, or "" when capture is off or the write failed. Failures
// are logged but otherwise ignored.
func WriteJSON(category string, body []byte) string {
	base := dir()
	if base == "" {
		return ""
	}

	var pretty bytes.Buffer
	data := body
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		data = pretty.Bytes()
	}

	seq := atomic.AddUint64(&captureSeq, 1)
	sessionDir := filepath.Join(base, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", sessionDir).Msg("capture: failed to create directory")
		return ""
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%s-%04d.json", category, seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return ""
	}

	log.Debug().Str("path", path).Msg("capture: wrote delivery")
	return path
}

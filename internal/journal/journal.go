package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

// OrphanEntry records an object whose metadata write failed and whose
// compensating delete failed too.
type OrphanEntry struct {
	ObjectKey string    `json:"object_key"`
	VideoID   string    `json:"video_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal is an append-only JSON-lines file of orphaned objects.
type Journal struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

func Open(filePath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Journal{
		filePath: filePath,
		file:     file,
	}, nil
}

// Append writes one entry and syncs it to disk.
func (j *Journal) Append(entry OrphanEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		logger.Log.Error("Journal: failed to append entry",
			zap.String("object_key", entry.ObjectKey),
			zap.Error(err),
		)
		return err
	}

	if err := j.file.Sync(); err != nil {
		logger.Log.Error("Journal: failed to sync",
			zap.String("object_key", entry.ObjectKey),
			zap.Error(err),
		)
		return err
	}

	logger.Log.Warn("Journal: orphaned object recorded",
		zap.String("object_key", entry.ObjectKey),
		zap.String("video_id", entry.VideoID),
		zap.String("reason", entry.Reason),
	)
	return nil
}

// ReadAll returns every entry still in the journal. Malformed lines are skipped.
func (j *Journal) ReadAll() ([]OrphanEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readAllLocked()
}

// renameFile is swapped out in tests.
var renameFile = os.Rename

// Remove rewrites the journal without the entries whose object key is in
// resolvedKeys. The rewrite goes through a temp file and an atomic rename.
func (j *Journal) Remove(resolvedKeys []string) error {
	if len(resolvedKeys) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAllLocked()
	if err != nil {
		return err
	}

	resolved := make(map[string]struct{}, len(resolvedKeys))
	for _, key := range resolvedKeys {
		resolved[key] = struct{}{}
	}

	// The temp file is opened for appending so that, once renamed, it
	// becomes the live journal without a reopen.
	tempPath := j.filePath + ".tmp"
	tmp, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	discard := func(err error) error {
		tmp.Close()
		os.Remove(tempPath)
		return err
	}

	w := bufio.NewWriter(tmp)
	kept := 0
	for _, entry := range entries {
		if _, done := resolved[entry.ObjectKey]; done {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return discard(err)
		}
		w.Write(data)
		w.WriteByte('\n')
		kept++
	}

	if err := w.Flush(); err != nil {
		return discard(err)
	}
	if err := tmp.Sync(); err != nil {
		return discard(err)
	}

	// j.file stays the live descriptor until the rename has succeeded
	if err := renameFile(tempPath, j.filePath); err != nil {
		return discard(err)
	}

	if err := j.file.Close(); err != nil {
		logger.Log.Warn("Journal: closing replaced file failed", zap.Error(err))
	}
	j.file = tmp

	logger.Log.Info("Journal: resolved entries removed",
		zap.Int("removed", len(entries)-kept),
		zap.Int("remaining", kept),
	)
	return nil
}

func (j *Journal) readAllLocked() ([]OrphanEntry, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []OrphanEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	entries := []OrphanEntry{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry OrphanEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

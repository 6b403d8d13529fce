package engine

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/artstore/pkg/types"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeStem strips path separators and shell-hostile characters from a
// filename stem.
func sanitizeStem(stem string) string {
	stem = strings.ReplaceAll(stem, " ", "_")
	stem = unsafeChars.ReplaceAllString(stem, "")
	if stem == "" {
		stem = "file"
	}
	return stem
}

// BuildStorageFilename derives the deterministic storage filename
// {stem}_{username}_{YYYYMMDDTHHMMSS}_{uuid8}.{ext}. The stem is truncated
// so the whole name stays within the filename byte budget.
func BuildStorageFilename(originalFilename, username string, now time.Time) string {
	ext := path.Ext(originalFilename)
	stem := strings.TrimSuffix(path.Base(originalFilename), ext)
	stem = sanitizeStem(stem)
	user := sanitizeStem(username)
	ext = sanitizeStem(strings.TrimPrefix(ext, "."))

	timestamp := now.UTC().Format("20060102T150405")
	uuid8 := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	suffix := fmt.Sprintf("_%s_%s_%s", user, timestamp, uuid8)
	if ext != "" {
		suffix += "." + ext
	}

	budget := types.MaxStorageFilenameBytes - len(suffix)
	if budget < 1 {
		budget = 1
	}
	if len(stem) > budget {
		stem = stem[:budget]
	}
	return stem + suffix
}

// BuildStoragePath returns the hour-bucket directory prefix YYYY/MM/DD/HH
func BuildStoragePath(now time.Time) string {
	return now.UTC().Format("2006/01/02/15")
}

// Package cursor discovers candidate source files, orders them
// chronologically, and tracks how far processing has advanced.
package cursor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Candidate is a discovered source file with its ordering key.
type Candidate struct {
	Path string
	Key  time.Time
}

// Cursor lists unprocessed files from the watched directory. The advance
// point is process-local: after a restart the ledger and the store's natural
// key take over, not this cursor.
type Cursor struct {
	dir     string
	pattern string
	logger  zerolog.Logger

	latest    Candidate
	hasLatest bool
}

// New creates a cursor over dir for files matching pattern.
func New(dir, pattern string, logger zerolog.Logger) *Cursor {
	return &Cursor{
		dir:     dir,
		pattern: pattern,
		logger:  logger,
	}
}

// ListCandidates returns matching files oldest-first, restricted to files
// strictly newer than the advance point. Files sharing the advance point's
// key but carrying a different name are included; the advanced file itself is
// not. Directory problems degrade to an empty list.
func (c *Cursor) ListCandidates() []Candidate {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("dir", c.dir).
			Msg("Cannot read monitoring directory")
		return nil
	}

	var candidates []Candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(c.pattern, entry.Name())
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("pattern", c.pattern).
				Msg("Invalid file pattern")
			return nil
		}
		if !matched {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		key, err := TimestampFromFilename(entry.Name())
		if err != nil {
			// Fall back to modification time so oddly named files still
			// get a total order.
			info, ierr := entry.Info()
			if ierr != nil {
				c.logger.Warn().
					Err(ierr).
					Str("file", path).
					Msg("Failed to stat file, skipping")
				continue
			}
			key = info.ModTime()
		}

		if !c.include(entry.Name(), key) {
			continue
		}
		candidates = append(candidates, Candidate{Path: path, Key: key})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Key.Equal(candidates[j].Key) {
			return candidates[i].Path < candidates[j].Path
		}
		return candidates[i].Key.Before(candidates[j].Key)
	})

	c.logger.Debug().
		Int("count", len(candidates)).
		Str("dir", c.dir).
		Msg("Discovered candidate files")

	return candidates
}

// include applies the advance-point filter.
func (c *Cursor) include(name string, key time.Time) bool {
	if !c.hasLatest {
		return true
	}
	if key.After(c.latest.Key) {
		return true
	}
	// Same key but a different identity still counts: producers can emit
	// two files within one second.
	return key.Equal(c.latest.Key) && name != filepath.Base(c.latest.Path)
}

// Advance moves the cursor past a successfully processed file.
func (c *Cursor) Advance(cand Candidate) {
	c.latest = cand
	c.hasLatest = true
	c.logger.Debug().
		Str("file", cand.Path).
		Time("key", cand.Key).
		Msg("Cursor advanced")
}

// Latest reports the current advance point, if any.
func (c *Cursor) Latest() (Candidate, bool) {
	return c.latest, c.hasLatest
}

// TimestampFromFilename parses the ordering key embedded in a source file
// name of the form Prefix_YYYY_MM_DD_HH_MM_SS[_mmm].ext. The trailing
// component, when present, is milliseconds.
func TimestampFromFilename(filename string) (time.Time, error) {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	parts := strings.Split(base, "_")
	if len(parts) < 7 {
		return time.Time{}, fmt.Errorf("no timestamp components in filename: %s", filename)
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid year in filename: %s", filename)
	}
	month, err := strconv.Atoi(parts[2])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid month in filename: %s", filename)
	}
	day, err := strconv.Atoi(parts[3])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("invalid day in filename: %s", filename)
	}
	hour, err := strconv.Atoi(parts[4])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("invalid hour in filename: %s", filename)
	}
	minute, err := strconv.Atoi(parts[5])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid minute in filename: %s", filename)
	}
	second, err := strconv.Atoi(parts[6])
	if err != nil || second < 0 || second > 59 {
		return time.Time{}, fmt.Errorf("invalid second in filename: %s", filename)
	}

	msec := 0
	if len(parts) >= 8 {
		msec, err = strconv.Atoi(parts[7])
		if err != nil || msec < 0 || msec > 999 {
			return time.Time{}, fmt.Errorf("invalid milliseconds in filename: %s", filename)
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, msec*int(time.Millisecond), time.Local), nil
}

// Package parser turns raw source-file bytes into normalized alarm events.
// Malformed input degrades to skipped rows, never to a failed parse.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"

	"alarm-monitor/internal/domain"
)

// rowTimeLayout is the timestamp base; an optional colon-separated fraction
// with millisecond-or-finer digits follows it.
const rowTimeLayout = "2006-01-02 15:04:05"

// minFields is the smallest row that still carries all event columns.
const minFields = 9

// Parser converts source files into AlarmEvent batches.
type Parser struct {
	logger zerolog.Logger
}

// New creates a parser.
func New(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseFile reads one source file and parses it. The returned error covers
// only the file read itself; content problems degrade to skipped rows or, for
// an undecodable file, to zero events.
func (p *Parser) ParseFile(path string) ([]domain.AlarmEvent, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	events, skipped := p.Parse(data, filepath.Base(path))
	return events, skipped, nil
}

// Parse decodes and parses raw file content. sourceFile is recorded on every
// event. The second return value counts skipped rows.
func (p *Parser) Parse(data []byte, sourceFile string) ([]domain.AlarmEvent, int) {
	text, encodingName, ok := decode(data)
	if !ok {
		p.logger.Error().
			Str("file", sourceFile).
			Msg("File not decodable with any supported encoding, treating as empty")
		return nil, 0
	}

	p.logger.Debug().
		Str("file", sourceFile).
		Str("encoding", encodingName).
		Msg("Decoded source file")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var events []domain.AlarmEvent
	skipped := 0
	line := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		// The first record is the header and is discarded whether or not
		// it read cleanly; it never counts as a skipped row.
		if line == 1 {
			continue
		}
		if err != nil {
			skipped++
			p.logger.Debug().
				Err(err).
				Str("file", sourceFile).
				Int("line", line).
				Msg("Skipping unreadable row")
			continue
		}

		event, reason := parseRow(row, sourceFile)
		if reason != "" {
			skipped++
			p.logger.Debug().
				Str("file", sourceFile).
				Int("line", line).
				Str("reason", reason).
				Msg("Skipping row")
			continue
		}
		events = append(events, event)
	}

	p.logger.Info().
		Str("file", sourceFile).
		Int("events", len(events)).
		Int("skipped", skipped).
		Msg("Parsed source file")

	return events, skipped
}

// parseRow maps one CSV row onto an AlarmEvent. A non-empty reason marks the
// row as skipped.
func parseRow(row []string, sourceFile string) (domain.AlarmEvent, string) {
	if len(row) < minFields {
		return domain.AlarmEvent{}, "fewer than " + strconv.Itoa(minFields) + " fields"
	}

	eventTime, err := parseRowTime(strings.TrimSpace(row[0]))
	if err != nil {
		return domain.AlarmEvent{}, "bad timestamp: " + err.Error()
	}
	instance, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return domain.AlarmEvent{}, "bad instance: " + err.Error()
	}
	code, err := strconv.Atoi(strings.TrimSpace(row[3]))
	if err != nil {
		return domain.AlarmEvent{}, "bad code: " + err.Error()
	}
	severity, err := strconv.Atoi(strings.TrimSpace(row[4]))
	if err != nil {
		return domain.AlarmEvent{}, "bad severity: " + err.Error()
	}

	return domain.AlarmEvent{
		Time:       eventTime,
		Instance:   instance,
		Name:       strings.TrimSpace(row[2]),
		Code:       code,
		Severity:   severity,
		Info1:      strings.TrimSpace(row[5]),
		Info2:      strings.TrimSpace(row[6]),
		Change:     strings.TrimSpace(row[7]),
		Message:    strings.TrimSpace(row[8]),
		SourceFile: sourceFile,
	}, ""
}

// parseRowTime parses "YYYY-MM-DD HH:MM:SS" with an optional ":fff" fraction.
// Times carry no zone marker and are interpreted as local wall-clock time.
func parseRowTime(s string) (time.Time, error) {
	base, frac := s, ""
	if strings.Count(s, ":") == 3 {
		i := strings.LastIndex(s, ":")
		base, frac = s[:i], s[i+1:]
	}

	t, err := time.ParseInLocation(rowTimeLayout, base, time.Local)
	if err != nil {
		return time.Time{}, err
	}

	if frac != "" {
		d, err := parseFraction(frac)
		if err != nil {
			return time.Time{}, err
		}
		t = t.Add(d)
	}
	return t, nil
}

// parseFraction interprets the digits after the third colon as a decimal
// fraction of a second, so "455" is 455ms and "4" is 400ms.
func parseFraction(frac string) (time.Duration, error) {
	if len(frac) == 0 || len(frac) > 9 {
		return 0, errors.New("fraction must have 1 to 9 digits")
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, errors.New("fraction must be numeric")
		}
	}
	padded := frac + strings.Repeat("0", 9-len(frac))
	n, err := strconv.Atoi(padded)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Nanosecond, nil
}

// decode tries UTF-8 first, then the simplified-Chinese encodings the source
// systems emit (GBK covers code page 936; GB18030 is its superset). The first
// lossless decode wins.
func decode(data []byte) (string, string, bool) {
	if utf8.Valid(data) {
		return string(data), "utf-8", true
	}

	candidates := []struct {
		name string
		enc  encoding.Encoding
	}{
		{"gbk", simplifiedchinese.GBK},
		{"gb18030", simplifiedchinese.GB18030},
	}

	for _, cand := range candidates {
		out, err := cand.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// The decoders substitute U+FFFD instead of failing; treat any
		// substitution as a failed attempt.
		if bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), cand.name, true
	}

	return "", "", false
}

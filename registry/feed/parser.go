package feed

import (
	"bufio"
	"errors"
	"strings"
	"unicode/utf8"

	"relaydir/internal/shared/logger"
	"relaydir/registry/model"
)

// ErrMalformedDocument is returned when the input is not a text document at
// all. Individual bad lines never trigger it; they are skipped.
var ErrMalformedDocument = errors.New("feed: malformed upstream document")

const (
	// The feed schema is positional with 15 comma-separated columns.
	numFields = 15

	// Records whose base64 profile payload is shorter than this are
	// truncation artifacts from the feed tail, not usable profiles.
	minProfileBlobLen = 128

	// The first two lines of the document are a preamble and a column
	// header; both are skipped unconditionally.
	preambleLines = 2
)

// Parse turns the raw delimited feed text into server records.
//
// Per-line irregularities (comments, short rows, missing payloads) are
// absorbed here and never surfaced to the caller; the whole document only
// fails when the input is not text.
func Parse(raw string) ([]*model.ServerRecord, error) {
	if !utf8.ValidString(raw) || strings.ContainsRune(raw, 0) {
		return nil, ErrMalformedDocument
	}

	l := logger.WithComponent("Registry/Parser")

	var (
		records []*model.ServerRecord
		skipped int
		lineNum int
	)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNum++
		if lineNum <= preambleLines {
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < numFields {
			skipped++
			continue
		}

		rec := recordFromFields(fields)
		if len(rec.ProfileBlob) < minProfileBlobLen {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, ErrMalformedDocument
	}

	if skipped > 0 {
		l.Debug().Int("skipped", skipped).Int("kept", len(records)).Msg("Dropped malformed or payload-less feed lines.")
	}
	return records, nil
}

// recordFromFields maps one well-formed feed row positionally into a record.
func recordFromFields(fields []string) *model.ServerRecord {
	return &model.ServerRecord{
		Hostname:           strings.TrimSpace(fields[0]),
		Address:            strings.TrimSpace(fields[1]),
		QualityScore:       model.PermissiveAtoi(fields[2]),
		PingMillis:         strings.TrimSpace(fields[3]),
		SpeedBitsPerSecond: model.PermissiveAtoi(fields[4]),
		CountryName:        strings.TrimSpace(fields[5]),
		CountryCode:        strings.TrimSpace(fields[6]),
		ActiveSessionCount: model.PermissiveAtoi(fields[7]),
		UptimeSeconds:      model.PermissiveAtoi(fields[8]),
		TotalUsers:         model.PermissiveAtoi(fields[9]),
		TotalTrafficBytes:  strings.TrimSpace(fields[10]),
		LogPolicyRaw:       strings.TrimSpace(fields[11]),
		Operator:           strings.TrimSpace(fields[12]),
		Message:            strings.TrimSpace(fields[13]),
		ProfileBlob:        strings.TrimSpace(fields[14]),
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Metadata is the bootstrap identity of a session, extracted once from the
// earliest entries and persisted by the caller. It is never re-derived from
// a trimmed entry list.
type Metadata struct {
	SessionID      string
	CWD            string
	GitBranch      string
	OriginalPrompt string
	StartedAt      time.Time
}

// Tail reads the transcript from fromByte to EOF and returns the parsed
// entries plus the new offset. Only newline-terminated lines are consumed;
// a partial trailing line is left for the next call. Malformed JSON lines
// are skipped. I/O errors bubble up to the caller.
func Tail(path string, fromByte int64) ([]Entry, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fromByte, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if fromByte > 0 {
		if _, err := f.Seek(fromByte, io.SeekStart); err != nil {
			return nil, fromByte, fmt.Errorf("seek transcript: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fromByte, fmt.Errorf("read transcript: %w", err)
	}

	var entries []Entry
	offset := fromByte
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			// Partial line, retried on the next call.
			break
		}
		line := data[:nl]
		data = data[nl+1:]
		offset += int64(nl) + 1

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if e, ok := parseEntry(line); ok {
			entries = append(entries, e)
		}
	}
	return entries, offset, nil
}

// ExtractMetadata pulls bootstrap identity from a batch of entries. The
// original prompt comes from the first user entry with non-empty free text;
// identity fields come from the first entry that carries them. Returns nil
// when the batch has no identity to offer.
func ExtractMetadata(entries []Entry) *Metadata {
	if len(entries) == 0 {
		return nil
	}
	meta := &Metadata{}
	found := false
	for i := range entries {
		e := &entries[i]
		if meta.SessionID == "" && e.SessionID != "" {
			meta.SessionID = e.SessionID
			meta.CWD = e.CWD
			meta.GitBranch = e.GitBranch
			found = true
		}
		if meta.StartedAt.IsZero() && !e.Timestamp.IsZero() {
			meta.StartedAt = e.Timestamp
			found = true
		}
		if meta.OriginalPrompt == "" {
			if text, ok := e.UserText(); ok && strings.TrimSpace(text) != "" {
				meta.OriginalPrompt = text
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return meta
}

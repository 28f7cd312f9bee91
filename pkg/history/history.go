// Package history implements conda-meta/history: the append-only log of
// every transaction applied to a prefix. Grounded on golang-dep/lock.go's
// read/marshal round-trip idiom (a raw wire shape decoded into a richer Go
// type, and re-encoded the same way on write) adapted from lock.json's
// single JSON document to history's line-oriented, append-only format,
// since unlike a lock file a history log is never rewritten wholesale —
// only ever grown.
package history

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

// Entry is one revision recorded in conda-meta/history: the specs the user
// asked for (if any), and the URLs of the records installed and removed to
// satisfy them.
type Entry struct {
	Timestamp time.Time
	Specs     []string
	Added     []string
	Removed   []string
}

// Append writes entry to the history file at path, creating it if missing.
// Entries are never rewritten. A process crash mid-write can leave a
// truncated final block; Read does not detect this and returns that block
// with whatever lines it holds (see readBlocks).
func Append(path string, entry Entry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "history: open %q", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeEntry(w, entry); err != nil {
		return errors.Wrapf(err, "history: write entry to %q", path)
	}
	return w.Flush()
}

func writeEntry(w io.Writer, e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Unix(0, 0).UTC()
	}
	if _, err := fmt.Fprintf(w, "==> %s <==\n", ts.UTC().Format(timeLayout)); err != nil {
		return err
	}
	if len(e.Specs) > 0 {
		if _, err := fmt.Fprintf(w, "# cmd: install %s\n", strings.Join(e.Specs, " ")); err != nil {
			return err
		}
	}
	for _, url := range e.Removed {
		if _, err := fmt.Fprintf(w, "-%s\n", url); err != nil {
			return err
		}
	}
	for _, url := range e.Added {
		if _, err := fmt.Fprintf(w, "+%s\n", url); err != nil {
			return err
		}
	}
	return nil
}

// Read parses every entry in the history file at path, oldest first,
// including a final entry that may be incomplete. A missing file reads as
// no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "history: open %q", path)
	}
	defer f.Close()
	return readBlocks(f)
}

func readBlocks(r io.Reader) ([]Entry, error) {
	var entries []Entry
	var cur *Entry

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "==> ") && strings.HasSuffix(line, " <=="):
			if cur != nil {
				entries = append(entries, *cur)
			}
			raw := strings.TrimSuffix(strings.TrimPrefix(line, "==> "), " <==")
			ts, err := time.Parse(timeLayout, raw)
			if err != nil {
				ts = time.Time{}
			}
			cur = &Entry{Timestamp: ts}
		case cur == nil:
			continue // garbage before the first header; skip
		case strings.HasPrefix(line, "# cmd: install "):
			cur.Specs = strings.Fields(strings.TrimPrefix(line, "# cmd: install "))
		case strings.HasPrefix(line, "+"):
			cur.Added = append(cur.Added, line[1:])
		case strings.HasPrefix(line, "-"):
			cur.Removed = append(cur.Removed, line[1:])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "history: scan")
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries, nil
}

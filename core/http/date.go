package http

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// IMF-fixdate, e.g. "Sun, 06 Nov 1994 08:49:37 GMT"
const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

type dateEntry struct {
	sec  int64
	line []byte
}

// DateCache holds the pre-formatted "Date: ...\r\n" header line. It is
// shared by every connection and refreshed lazily at most once per second.
// A published entry is never modified, so readers never see a partial value
// and never wait for a refresh in progress.
type DateCache struct {
	clock      clock.Clock
	current    atomic.Pointer[dateEntry]
	refreshing atomic.Bool
}

// NewDateCache creates a cache reading time from clk (the wall clock if nil).
func NewDateCache(clk clock.Clock) *DateCache {
	if clk == nil {
		clk = clock.New()
	}
	d := &DateCache{clock: clk}
	d.current.Store(newDateEntry(clk.Now()))
	return d
}

func newDateEntry(now time.Time) *dateEntry {
	line := make([]byte, 0, len("Date: \r\n")+len(dateLayout))
	line = append(line, "Date: "...)
	line = now.UTC().AppendFormat(line, dateLayout)
	line = append(line, "\r\n"...)
	return &dateEntry{sec: now.Unix(), line: line}
}

// Line returns the full header line. The slice must not be modified.
func (d *DateCache) Line() []byte {
	e := d.current.Load()
	now := d.clock.Now()
	if now.Unix() != e.sec && d.refreshing.CompareAndSwap(false, true) {
		e = newDateEntry(now)
		d.current.Store(e)
		d.refreshing.Store(false)
	}
	return e.line
}

// Value returns only the date, without the header name and CRLF.
func (d *DateCache) Value() []byte {
	line := d.Line()
	return line[len("Date: ") : len(line)-2]
}

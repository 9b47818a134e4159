package sqlite

import (
	"fmt"
	"strings"
	"time"
)

// storedTimeLayout is fixed-width UTC so that ORDER BY on the TEXT column sorts
// chronologically. RFC3339Nano trims trailing zeros and would not.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// readTimeLayouts are tried in order when decoding a timestamp column. Rows written by
// other tools (sqlite3 CLI, datetime()) use the space-separated forms.
var readTimeLayouts = []struct {
	layout string
	loc    *time.Location
}{
	{time.RFC3339Nano, nil},
	{"2006-01-02 15:04:05.999999999Z07:00", nil},
	{"2006-01-02 15:04:05.999999999", time.UTC},
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func decodeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("sqlite: empty timestamp")
	}
	for _, l := range readTimeLayouts {
		var (
			ts  time.Time
			err error
		)
		if l.loc != nil {
			ts, err = time.ParseInLocation(l.layout, s, l.loc)
		} else {
			ts, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlite: unsupported timestamp %q", s)
}

package timestamp

import (
	"errors"
	"fmt"
	"time"

	"github.com/itchyny/timefmt-go"
)

// ErrFormat is returned when a date string does not match the configured layout.
var ErrFormat = errors.New("timestamp does not match format")

// Layout decodes date strings written with a strftime-style format
// (e.g. "%d/%m/%Y %H:%M:%S") into calendar time.
type Layout struct {
	Format   string
	Location *time.Location
}

func NewLayout(format string, loc *time.Location) Layout {
	if loc == nil {
		loc = time.Local
	}
	return Layout{Format: format, Location: loc}
}

func (l Layout) Parse(value string) (time.Time, error) {
	t, err := timefmt.ParseInLocation(value, l.Format, l.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q with format %q: %v", ErrFormat, value, l.Format, err)
	}
	return t, nil
}

// IsNewer reports whether current is strictly later than last. An empty last
// means nothing was seen yet, so everything is newer. Both sides are compared
// at second resolution.
func (l Layout) IsNewer(current, last string) (bool, error) {
	if last == "" {
		return true, nil
	}
	cur, err := l.Parse(current)
	if err != nil {
		return false, err
	}
	prev, err := l.Parse(last)
	if err != nil {
		return false, err
	}
	return cur.Unix() > prev.Unix(), nil
}

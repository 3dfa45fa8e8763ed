package oai

import (
	"time"

	"go.uber.org/multierr"

	"github.com/charlesng35/oaipmh/internal/metadata"
)

const (
	dayLayout         = "2006-01-02"
	granularityString = "YYYY-MM-DDThh:mm:ssZ"
)

type granularity int

const (
	granularityNone granularity = iota
	granularityDay
	granularitySecond
)

func formatDatestamp(t time.Time) string {
	return t.UTC().Format(metadata.DateLayout)
}

func parseDatestamp(value string) (time.Time, granularity, bool) {
	if t, err := time.ParseInLocation(metadata.DateLayout, value, time.UTC); err == nil {
		return t, granularitySecond, true
	}
	if t, err := time.ParseInLocation(dayLayout, value, time.UTC); err == nil {
		return t, granularityDay, true
	}
	return time.Time{}, granularityNone, false
}

// parseDateRange validates from/until. Both bounds are inclusive; a day
// granular until covers the whole day.
func parseDateRange(from, until string) (*time.Time, *time.Time, error) {
	var (
		errs                error
		fromTime, untilTime *time.Time
		fromGran, untilGran granularity
	)

	if from != "" {
		t, g, ok := parseDatestamp(from)
		if !ok {
			errs = multierr.Append(errs, protocolErrorf(CodeBadArgument, "from %q is not a valid datestamp", from))
		} else {
			fromTime, fromGran = &t, g
		}
	}
	if until != "" {
		t, g, ok := parseDatestamp(until)
		if !ok {
			errs = multierr.Append(errs, protocolErrorf(CodeBadArgument, "until %q is not a valid datestamp", until))
		} else {
			if g == granularityDay {
				t = t.Add(24*time.Hour - time.Second)
			}
			untilTime, untilGran = &t, g
		}
	}
	if errs != nil {
		return nil, nil, errs
	}

	if fromTime != nil && untilTime != nil {
		if fromGran != untilGran {
			return nil, nil, protocolErrorf(CodeBadArgument, "from and until must share the same granularity")
		}
		if fromTime.After(*untilTime) {
			return nil, nil, protocolErrorf(CodeBadArgument, "from must not be later than until")
		}
	}
	return fromTime, untilTime, nil
}

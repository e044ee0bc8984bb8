// Package series decides which distribution releases are offered, either from
// a fixed list or from distro-info style end-of-life CSV files.
package series

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// DefaultRolling lists series that never get an EOL date.
var DefaultRolling = []string{"sid", "experimental", "devel"}

// DefaultSources are the distro-info-data files shipped by Debian and Ubuntu.
var DefaultSources = []string{
	"/usr/share/distro-info/debian.csv",
	"/usr/share/distro-info/ubuntu.csv",
}

// Record is one row of an EOL data file.
type Record struct {
	Series  string
	Release time.Time
	EOL     []time.Time
}

// LatestEOL returns the latest end-of-life date, if any.
func (r Record) LatestEOL() (time.Time, bool) {
	var latest time.Time
	for _, d := range r.EOL {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, !latest.IsZero()
}

// ParseCSV reads records from a file with a header row. The "series" and
// "release" columns are required; every column named eol* is an EOL column.
// Rows without a series or a parseable release date are skipped.
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, oops.Errorf("eol data: empty file")
		}
		return nil, oops.Wrapf(err, "eol data: read header")
	}
	seriesCol, releaseCol := -1, -1
	var eolCols []int
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case name == "series":
			seriesCol = i
		case name == "release":
			releaseCol = i
		case strings.HasPrefix(name, "eol"):
			eolCols = append(eolCols, i)
		}
	}
	if seriesCol < 0 || releaseCol < 0 {
		return nil, oops.Errorf("eol data: header must contain series and release columns, got %v", header)
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, oops.Wrapf(err, "eol data: read row")
		}
		name := cell(row, seriesCol)
		if name == "" {
			continue
		}
		release, ok := parseDate(cell(row, releaseCol))
		if !ok {
			continue
		}
		rec := Record{Series: name, Release: release}
		for _, c := range eolCols {
			if d, ok := parseDate(cell(row, c)); ok {
				rec.EOL = append(rec.EOL, d)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// Supported returns the supported series in records, newest first.
// A series is supported once released and while its latest EOL date is still
// ahead of today. Rolling series are supported once released.
func Supported(records []Record, now time.Time, rolling []string) []string {
	today := truncateDay(now)
	isRolling := make(map[string]bool, len(rolling))
	for _, r := range rolling {
		isRolling[r] = true
	}

	var supported []string
	for _, rec := range records {
		if rec.Series == "" || rec.Release.IsZero() {
			continue
		}
		if rec.Release.After(today) {
			continue
		}
		if isRolling[rec.Series] {
			supported = append(supported, rec.Series)
			continue
		}
		if eol, ok := rec.LatestEOL(); ok && eol.After(today) {
			supported = append(supported, rec.Series)
		}
	}
	for i, j := 0, len(supported)-1; i < j; i, j = i+1, j-1 {
		supported[i], supported[j] = supported[j], supported[i]
	}
	return supported
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Load evaluates every source and concatenates the results in source order.
// Sources that cannot be read are logged and skipped.
func Load(sources []string, now time.Time, rolling []string, log logrus.FieldLogger) Set {
	var names []string
	for _, src := range sources {
		list, err := loadFile(src, now, rolling)
		if err != nil {
			log.WithError(err).WithField("source", src).Warn("eol data unavailable")
			continue
		}
		log.WithFields(logrus.Fields{"source": src, "supported": len(list)}).Debug("eol data loaded")
		names = append(names, list...)
	}
	return NewSet(names...)
}

func loadFile(path string, now time.Time, rolling []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	records, err := ParseCSV(f)
	if err != nil {
		return nil, oops.Wrapf(err, "parse %s", path)
	}
	return Supported(records, now, rolling), nil
}

// Static returns a Set from a fixed list.
func Static(names ...string) Set {
	return NewSet(names...)
}

// Package trajectory reads the CSV trajectories produced by workers and
// summarizes them.
//
// Rows are SimTime,Lat,Lon,Alt followed by optional attitude and velocity
// columns, which are ignored. Lines starting with "//" are comments and the
// first line naming SimTime or Lat is a header.
package trajectory

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoWaypoints indicates the input held no parseable rows.
var ErrNoWaypoints = errors.New("no waypoints in trajectory")

// Waypoint is one trajectory sample.
type Waypoint struct {
	Time float64 `json:"time"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  float64 `json:"alt"`
}

// Summary describes a whole trajectory.
type Summary struct {
	Waypoints    int      `json:"waypoints"`
	SkippedLines int      `json:"skipped_lines"`
	Takeoff      Waypoint `json:"takeoff"`
	Landing      Waypoint `json:"landing"`
	Duration     float64  `json:"duration_seconds"`
	MinAlt       float64  `json:"min_alt"`
	MaxAlt       float64  `json:"max_alt"`
}

// Parse reads waypoints from r. Rows that do not parse are skipped and counted.
func Parse(r io.Reader) ([]Waypoint, int, error) {
	var (
		waypoints     []Waypoint
		skipped       int
		headerSkipped bool
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if !headerSkipped && (strings.Contains(line, "SimTime") || strings.Contains(line, "Lat")) {
			headerSkipped = true
			continue
		}

		wp, err := parseRow(line)
		if err != nil {
			skipped++
			continue
		}
		waypoints = append(waypoints, wp)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read trajectory: %w", err)
	}
	return waypoints, skipped, nil
}

func parseRow(line string) (Waypoint, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return Waypoint{}, fmt.Errorf("want at least 4 columns, got %d", len(fields))
	}
	var vals [4]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Waypoint{}, err
		}
		vals[i] = v
	}
	return Waypoint{Time: vals[0], Lat: vals[1], Lon: vals[2], Alt: vals[3]}, nil
}

// Summarize parses data and computes its summary.
func Summarize(data []byte) (*Summary, error) {
	waypoints, skipped, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}

	first, last := waypoints[0], waypoints[len(waypoints)-1]
	s := &Summary{
		Waypoints:    len(waypoints),
		SkippedLines: skipped,
		Takeoff:      first,
		Landing:      last,
		Duration:     last.Time - first.Time,
		MinAlt:       first.Alt,
		MaxAlt:       first.Alt,
	}
	for _, wp := range waypoints {
		s.MinAlt = math.Min(s.MinAlt, wp.Alt)
		s.MaxAlt = math.Max(s.MaxAlt, wp.Alt)
	}
	return s, nil
}

// FlightTime returns Duration as a time.Duration.
func (s *Summary) FlightTime() time.Duration {
	return time.Duration(s.Duration * float64(time.Second))
}

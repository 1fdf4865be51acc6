// Package export writes analysis results for people and spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/tally"
)

// Header is the CSV column order.
var Header = []string{"Frame", "IsDummy", "Points", "OverheadCount", "SideCount", "BackCount"}

// WriteCSV writes one row per result, ordered by frame number.
func WriteCSV(w io.Writer, results []tally.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range sorted(results) {
		row := []string{
			strconv.Itoa(r.FrameNumber),
			formatBool(r.IsDummy),
			strconv.Itoa(r.Points),
			strconv.Itoa(r.ViewReferenceCounts[frame.Overhead]),
			strconv.Itoa(r.ViewReferenceCounts[frame.Side]),
			strconv.Itoa(r.ViewReferenceCounts[frame.Back]),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the CSV export to path.
func SaveCSV(path string, results []tally.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, results); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Summary returns one "N -> yes|no" line per frame, yes meaning dummy.
func Summary(results []tally.Result) string {
	var sb strings.Builder
	for _, r := range sorted(results) {
		verdict := "no"
		if r.IsDummy {
			verdict = "yes"
		}
		fmt.Fprintf(&sb, "%d -> %s\n", r.FrameNumber, verdict)
	}
	return sb.String()
}

func sorted(results []tally.Result) []tally.Result {
	out := make([]tally.Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FrameNumber < out[j].FrameNumber })
	return out
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

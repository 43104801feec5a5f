// Package report renders the fixed-width console output of a run:
// success banners with field-aligned summary lines and the structured
// failure report every terminal error path emits.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/adergaoui/b2up/internal/restic"
)

const bannerWidth = 50

// maxExcerpt bounds the diagnostic excerpt in failure reports so a
// multi-megabyte stderr dump cannot flood the journal.
const maxExcerpt = 300

func banner(w io.Writer, title string) {
	line := strings.Repeat("=", bannerWidth)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, " %s\n", title)
	fmt.Fprintln(w, line)
}

func field(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%-18s %s\n", name+":", value)
}

// WriteBackupSummary renders the success report for a completed backup.
func WriteBackupSummary(w io.Writer, stats *restic.BackupStats) {
	banner(w, "BACKUP COMPLETED")
	field(w, "Snapshot", stats.SnapshotID)
	field(w, "Files New", fmt.Sprintf("%d", stats.FilesNew))
	field(w, "Files Changed", fmt.Sprintf("%d", stats.FilesChanged))
	field(w, "Files Unmodified", fmt.Sprintf("%d", stats.FilesUnmodified))
	field(w, "Dirs New", fmt.Sprintf("%d", stats.DirsNew))
	field(w, "Dirs Changed", fmt.Sprintf("%d", stats.DirsChanged))
	field(w, "Data Added", humanize.IBytes(uint64(stats.DataAdded)))
	field(w, "Total Processed", humanize.IBytes(uint64(stats.BytesProcessed)))
	field(w, "Duration", FormatDuration(stats.Duration))
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
}

// WriteForgetSummary renders the result of a retention run.
func WriteForgetSummary(w io.Writer, result *restic.ForgetResult) {
	banner(w, "RETENTION APPLIED")
	field(w, "Snapshots Kept", fmt.Sprintf("%d", result.SnapshotsKept))
	field(w, "Snapshots Removed", fmt.Sprintf("%d", result.SnapshotsRemoved))
	if len(result.RemovedIDs) > 0 {
		field(w, "Removed", strings.Join(result.RemovedIDs, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
}

// WriteCheckSummary confirms a passed integrity check.
func WriteCheckSummary(w io.Writer, readDataSubset string, duration time.Duration) {
	banner(w, "VERIFICATION PASSED")
	field(w, "Data Sampled", readDataSubset)
	field(w, "Duration", FormatDuration(duration))
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
}

// WriteSnapshotsTable lists snapshots in a column-aligned table.
func WriteSnapshotsTable(w io.Writer, snapshots []restic.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tHOST\tPATHS")
	for _, s := range snapshots {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.ShortID,
			s.Time.Local().Format("2006-01-02 15:04:05"),
			s.Hostname,
			strings.Join(s.Paths, ", "),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d snapshots\n", len(snapshots))
}

// WriteFailure renders the structured failure report shared by every
// terminal error path: timestamp, phase, exit code, truncated excerpt.
func WriteFailure(w io.Writer, ts time.Time, phase string, code int, diagnostic string) {
	banner(w, "BACKUP FAILED")
	field(w, "Time", ts.Format(time.RFC3339))
	field(w, "Phase", phase)
	field(w, "Code", fmt.Sprintf("%d", code))
	field(w, "Error", truncate(diagnostic, maxExcerpt))
	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
}

// FormatDuration renders a duration as minutes and seconds, e.g.
// "4m06s", or "12s" below one minute.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins == 0 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", mins, secs)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

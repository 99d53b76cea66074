package reliability

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// DefaultReportName returns the report file name generated for t.
func DefaultReportName(t time.Time) string {
	return "reliability_report_" + t.Format("20060102_150405") + ".txt"
}

// WriteReport writes the textual reliability report of st to w.
func WriteReport(w io.Writer, st Stats, now time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "=== Hydraulic Foot-Stand Reliability Test Report ===")
	fmt.Fprintf(bw, "Generated: %s\n", now.Format(reportTimeLayout))
	fmt.Fprintf(bw, "Run ID: %s\n", st.RunID)
	writeCounters(bw, &st, now)

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "=== Critical Log Entries ===")
	for _, e := range st.CriticalLogs {
		fmt.Fprintln(bw, e.String())
	}

	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "=== Last %d Cycles ===\n", WindowSize)
	for _, c := range st.Window() {
		fmt.Fprintf(bw, "cycle %d: %s\n", c.Cycle, outcomeWord(c.Success()))
	}

	return bw.Flush()
}

// SaveReport writes the report of st to path, creating parent directories as needed.
func SaveReport(path string, st Stats, now time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteReport(f, st, now); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}

	return f.Close()
}

// Summary renders the console summary of st.
func Summary(st Stats, now time.Time) string {
	var sb strings.Builder

	fmt.Fprintln(&sb, "=== Reliability Test Summary ===")
	writeCounters(&sb, &st, now)
	fmt.Fprintf(&sb, "Recent %d-cycle success rate: %.2f%%\n", WindowSize, st.RecentRate())
	fmt.Fprintf(&sb, "Critical log entries: %d\n", len(st.CriticalLogs))
	fmt.Fprintln(&sb, "================================")

	return sb.String()
}

func writeCounters(w io.Writer, st *Stats, now time.Time) {
	h, m, s := hms(st.Elapsed(now))

	fmt.Fprintf(w, "Total cycles: %d\n", st.TotalCycles)
	fmt.Fprintf(w, "Support successes: %d\n", st.SupportSuccess)
	fmt.Fprintf(w, "Support failures: %d\n", st.SupportFail)
	fmt.Fprintf(w, "Retract successes: %d\n", st.RetractSuccess)
	fmt.Fprintf(w, "Retract failures: %d\n", st.RetractFail)
	fmt.Fprintf(w, "Support success rate: %.2f%%\n", st.SupportRate())
	fmt.Fprintf(w, "Retract success rate: %.2f%%\n", st.RetractRate())
	fmt.Fprintf(w, "Overall success rate: %.2f%%\n", st.OverallRate())
	fmt.Fprintf(w, "Average support time: %.1f ms\n", ms(st.AvgSupportTime()))
	fmt.Fprintf(w, "Average retract time: %.1f ms\n", ms(st.AvgRetractTime()))
	fmt.Fprintf(w, "Max consecutive support failures: %d\n", st.MaxSupportStreak)
	fmt.Fprintf(w, "Max consecutive retract failures: %d\n", st.MaxRetractStreak)
	fmt.Fprintf(w, "Elapsed: %d h %d min %d s\n", h, m, s)
}

func outcomeWord(ok bool) string {
	if ok {
		return "success"
	}

	return "failure"
}

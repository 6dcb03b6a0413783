package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/database"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/registry"
	"github.com/ces0491/isrc-meta-data-finder/internal/telemetry"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func ratingColor(r models.QualityRating) text.Colors {
	switch r {
	case models.RatingExcellent, models.RatingGood:
		return text.Colors{text.FgGreen}
	case models.RatingFair:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgRed}
	}
}

func renderAnalysis(w io.Writer, a *models.Analysis) {
	r := a.Record
	rating := string(a.Score.Rating)
	if isTerminal(w) {
		rating = ratingColor(a.Score.Rating).Sprint(rating)
	}
	fmt.Fprintf(w, "%s  %s\n", r.ISRC, describe(r))
	fmt.Fprintf(w, "confidence %.2f (%s)", a.Score.Total, rating)
	switch {
	case a.Stale:
		fmt.Fprint(w, "  stale cached result")
	case a.FromCache:
		fmt.Fprintf(w, "  cached until %s", a.ExpiresAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w)

	fields := [][]string{
		{"album", r.Album},
		{"duration", formatDuration(r.DurationMS)},
		{"released", r.ReleaseDate},
		{"sources", joinProviders(r.Sources)},
	}
	for _, p := range models.AllProviders {
		if id := r.ExternalIDs[p]; id != "" {
			fields = append(fields, []string{string(p) + " id", id})
		}
	}
	if r.AudioFeatures.Tempo != nil {
		fields = append(fields, []string{"tempo", strconv.FormatFloat(*r.AudioFeatures.Tempo, 'f', 1, 64)})
	}
	if r.Lyrics != nil {
		fields = append(fields, []string{"lyrics", fmt.Sprintf("%d chars", len(r.Lyrics.Text))})
	}
	if len(r.Credits) > 0 {
		fields = append(fields, []string{"credits", strconv.Itoa(len(r.Credits))})
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, fields, nil))

	rows := make([][]string, 0, len(a.Score.Breakdown))
	for _, f := range a.Score.Breakdown {
		rows = append(rows, []string{
			string(f.Factor),
			strconv.FormatFloat(f.Value, 'f', 2, 64),
			strconv.FormatFloat(f.Weight, 'f', 2, 64),
			strconv.FormatFloat(f.Contribution, 'f', 2, 64),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Factor", "Value", "Weight", "Points"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))

	if a.Provenance != nil {
		srcRows := make([][]string, 0, len(a.Provenance.Sources))
		for _, s := range a.Provenance.Sources {
			srcRows = append(srcRows, []string{string(s.Source), string(s.Status), s.Latency.Round(time.Millisecond).String(), s.Error})
		}
		fmt.Fprintln(w, renderTable([]string{"Source", "Status", "Latency", "Error"}, srcRows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	}
}

func renderReport(w io.Writer, report *batch.Report) {
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		title, score, rating := "", "", ""
		if item.Analysis != nil {
			title = describe(item.Analysis.Record)
			score = strconv.FormatFloat(item.Analysis.Score.Total, 'f', 2, 64)
			rating = string(item.Analysis.Score.Rating)
		}
		rows = append(rows, []string{strconv.Itoa(item.Index + 1), item.ISRC, string(item.Status), title, score, rating, item.Error})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "ISRC", "Status", "Track", "Score", "Rating", "Error"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
	fmt.Fprintf(w, "%d done, %d failed, %d not attempted in %s\n",
		report.Completed, report.Failed, report.NotAttempted,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

func renderStored(w io.Writer, r *models.CanonicalTrackRecord, score models.ConfidenceScore, history []models.HistoryEntry) {
	fmt.Fprintf(w, "%s  %s\n", r.ISRC, describe(r))
	fmt.Fprintf(w, "stored confidence %.2f (%s), sources %s\n", score.Total, score.Rating, joinProviders(r.Sources))

	rows := make([][]string, 0, len(history))
	for _, h := range history {
		confidence := ""
		if h.Confidence != nil {
			confidence = strconv.FormatFloat(*h.Confidence, 'f', 2, 64)
		}
		rows = append(rows, []string{
			h.CreatedAt.Local().Format(time.DateTime),
			h.AnalysisType,
			h.Status,
			confidence,
			h.ProcessingTime.Round(time.Millisecond).String(),
			h.Error,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"When", "Type", "Status", "Confidence", "Took", "Error"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
}

func renderSources(w io.Writer, status []registry.ProviderStatus) {
	rows := make([][]string, 0, len(status))
	for _, s := range status {
		rpm := ""
		if s.RequestsPerMinute > 0 {
			rpm = strconv.Itoa(s.RequestsPerMinute)
		}
		rows = append(rows, []string{string(s.Provider), s.Status, rpm})
	}
	fmt.Fprintln(w, renderTable([]string{"Source", "Status", "Req/min"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight}))
}

func renderStats(w io.Writer, s database.Stats) {
	rows := [][]string{
		{"tracks", strconv.FormatInt(s.Tracks, 10)},
		{"with lyrics", strconv.FormatInt(s.WithLyrics, 10)},
		{"credits", strconv.FormatInt(s.Credits, 10)},
		{"analyses", strconv.FormatInt(s.Analyses, 10)},
		{"average confidence", strconv.FormatFloat(s.AverageConfidence, 'f', 2, 64)},
	}
	fmt.Fprintln(w, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func renderMetrics(w io.Writer, samples []telemetry.Sample) {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			s.Name,
			s.Attributes,
			strconv.FormatUint(s.Count, 10),
			strconv.FormatFloat(s.Value, 'f', 2, 64),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Metric", "Attributes", "Count", "Value"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
}

// historyView gives history rows JSON names; the model carries none.
func historyView(entries []models.HistoryEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		row := map[string]any{
			"analysis_type":      e.AnalysisType,
			"status":             e.Status,
			"processing_time_ms": e.ProcessingTime.Milliseconds(),
			"created_at":         e.CreatedAt,
		}
		if e.Confidence != nil {
			row["confidence"] = *e.Confidence
		}
		if e.Error != "" {
			row["error"] = e.Error
		}
		out = append(out, row)
	}
	return out
}

func describe(r *models.CanonicalTrackRecord) string {
	if r == nil {
		return ""
	}
	if r.Artist != "" && r.Title != "" {
		return r.Artist + " - " + r.Title
	}
	return r.Title
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func joinProviders(ps []models.Provider) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

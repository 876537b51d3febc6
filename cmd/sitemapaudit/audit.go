package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"sitemapaudit/internal/audit"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/sitemap"
)

func newAuditCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit <sitemap-url>",
		Short: "Resolve a sitemap, probe every URL and print a health report",
		Long: `Resolve a sitemap (following sitemap indexes), probe every listed URL and
print a health report. The command fails only when the sitemap itself cannot
be loaded; broken URLs are reported, not treated as a failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.audit(cmd.Context(), args[0], asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func (a *app) audit(ctx context.Context, sitemapURL string, asJSON bool, out io.Writer) error {
	resolver := sitemap.NewResolver(a.httpConfig(), sitemap.WithLogger(a.log))
	svc := audit.NewService(resolver, audit.WithLogger(a.log))
	defer svc.Close()

	snap, err := svc.Run(ctx, sitemapURL, a.probeConfig())
	if err != nil {
		return fmt.Errorf("audit %s: %w", sitemapURL, err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	renderSnapshot(out, snap)
	return nil
}

func renderSnapshot(out io.Writer, snap audit.Snapshot) {
	rep := snap.Report
	if rep == nil {
		return
	}

	summary := newTable(out)
	summary.SetTitle("Sitemap health")
	summary.AppendRows([]table.Row{
		{"Sitemap", snap.SitemapURL},
		{"URLs probed", rep.Total},
		{"Health score", fmt.Sprintf("%.2f%%", rep.HealthScore)},
		{"Avg response", fmt.Sprintf("%.2f ms", rep.Metrics.AvgResponseMS)},
		{"Median response", fmt.Sprintf("%.2f ms", rep.Metrics.MedianResponseMS)},
		{"Stale lastmod", rep.Metrics.OldURLs},
	})
	summary.AppendSeparator()
	for _, g := range models.AllGroups {
		summary.AppendRow(table.Row{string(g), rep.Counts[g]})
	}
	if snap.Cancelled {
		summary.AppendFooter(table.Row{"Cancelled", fmt.Sprintf("%d of %d URLs completed", snap.Done, snap.Total)})
	}
	summary.Render()

	if len(snap.Warnings) > 0 {
		warnings := newTable(out)
		warnings.SetTitle("Skipped sitemaps")
		warnings.AppendHeader(table.Row{"URL", "Kind", "Reason"})
		for _, w := range snap.Warnings {
			warnings.AppendRow(table.Row{w.URL, w.Kind, w.Reason})
		}
		warnings.Render()
	}

	var problems []models.ProbeResult
	for _, r := range snap.Results {
		if r.StatusGroup != models.Group2xx {
			problems = append(problems, r)
		}
	}
	if len(problems) > 0 {
		pt := newTable(out)
		pt.SetTitle("URLs needing attention")
		pt.AppendHeader(table.Row{"URL", "Status", "Group", "Final URL", "Detail"})
		pt.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMax: 60},
			{Number: 4, WidthMax: 60},
			{Number: 5, WidthMax: 50},
		})
		for _, r := range problems {
			pt.AppendRow(table.Row{r.URL, r.StatusCode.String(), string(r.StatusGroup), r.FinalURL, r.ErrorDetail})
		}
		pt.Render()
	}

	for _, issue := range rep.Issues {
		fmt.Fprintf(out, "[%s] %s\n", issue.Severity, issue.Message)
	}
	for _, rec := range rep.Recommendations {
		fmt.Fprintf(out, "- %s\n", rec)
	}
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignLeft
	return t
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sitemapaudit/internal/sitemap"
)

func newDiscoverCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <site-url>",
		Short: "Find a site's sitemaps via robots.txt and common sitemap paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.discover(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	}
}

func (a *app) discover(ctx context.Context, siteURL string, out io.Writer) error {
	resolver := sitemap.NewResolver(a.httpConfig(), sitemap.WithLogger(a.log))
	robots, found, err := resolver.Discover(ctx, siteURL)
	if err != nil {
		return err
	}

	t := newTable(out)
	t.SetTitle("robots.txt")
	t.AppendRows([]table.Row{
		{"URL", robots.URL},
		{"Found", robots.Found},
		{"Declares sitemaps", robots.SitemapDeclared},
	})
	if robots.Error != "" {
		t.AppendRow(table.Row{"Error", robots.Error})
	}
	t.Render()

	if len(found) == 0 {
		fmt.Fprintln(out, "no sitemaps found")
		return nil
	}
	st := newTable(out)
	st.AppendHeader(table.Row{"#", "Sitemap"})
	for i, u := range found {
		st.AppendRow(table.Row{i + 1, u})
	}
	st.Render()
	return nil
}

package main

import (
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/table"

	"github.com/die-net/proxyctl/internal/profile"
)

func renderProfiles(profiles []profile.Profile) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Type", "Host", "Port", "Username"})
	for _, p := range profiles {
		t.AppendRow(table.Row{
			p.Name,
			p.Type,
			p.Upstream.Host,
			strconv.Itoa(p.Upstream.Port),
			p.Upstream.Username,
		})
	}
	return t.Render()
}

func success(w io.Writer, format string, args ...any) {
	_, _ = color.New(color.FgGreen).Fprintf(w, format+"\n", args...)
}

func notice(w io.Writer, format string, args ...any) {
	_, _ = color.New(color.FgYellow).Fprintf(w, format+"\n", args...)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/oauthproxy/oauthproxy/app/config"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config-dir>",
		Short: "Validate every proxy configuration file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			var files []string
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".json") {
					continue
				}
				files = append(files, name)
			}
			sort.Strings(files)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"File", "Service", "Mode", "From", "To", "Status"})

			invalid := 0
			for _, file := range files {
				cfg, err := config.Load(filepath.Join(dir, file))
				if err != nil {
					invalid++
					reason := err.Error()
					var inv *config.InvalidError
					if errors.As(err, &inv) {
						reason = inv.Reason
					}
					t.AppendRow(table.Row{file, "", "", "", "", reason})
					continue
				}
				to := "-"
				if cfg.IsReverseProxy() {
					to = strconv.Itoa(cfg.ToPort)
				}
				t.AppendRow(table.Row{file, cfg.ServiceName, string(cfg.Mode), cfg.FromPort, to, "ok"})
			}
			t.Render()

			if invalid > 0 {
				return fmt.Errorf("%d of %d configuration files are invalid", invalid, len(files))
			}
			return nil
		},
	}
}

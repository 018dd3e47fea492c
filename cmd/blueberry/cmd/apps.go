package cmd

import (
	"context"
	"io"

	"github.com/GoCodeAlone/blueberry"
	"github.com/GoCodeAlone/blueberry/internal/apps"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewAppsCommand lists the declared applications without launching any.
func NewAppsCommand() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the declared applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			launch := false
			cfg.LaunchDefault = &launch
			cfg.RescanSchedule = ""

			opts := append(apps.Options(io.Discard), blueberry.WithoutMainThreadLauncher())
			fw, err := blueberry.NewFramework(cfg, nil, opts...)
			if err != nil {
				return err
			}
			ctx := context.WithoutCancel(cmd.Context())
			if err := fw.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = fw.Stop(ctx) }()

			renderApps(cmd.OutOrStdout(), fw.Container().AppDescriptors())
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func renderApps(out io.Writer, descs []*blueberry.ApplicationDescriptor) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Name", "Thread", "Cardinality", "Visible", "Default"})
	for _, d := range descs {
		tw.AppendRow(table.Row{d.ApplicationID(), d.Name(), d.Thread(), d.Cardinality(), d.Visible(), d.IsDefault()})
	}
	tw.Render()
}

package cli

import (
	"github.com/spf13/cobra"

	"nifty-breakout/internal/models"
)

func addAlertCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Breakout alerts",
		Long:  "List and acknowledge stored breakout alerts.",
	}

	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsReadCmd(app))
	cmd.AddCommand(newAlertsReadAllCmd(app))

	rootCmd.AddCommand(cmd)
}

func newAlertsListCmd(app *App) *cobra.Command {
	var unread bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}

			var list []models.Alert
			var err error
			if unread {
				list, err = app.Alerts.Unread(ctx)
			} else {
				list, err = app.Alerts.List(ctx)
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"alerts": list, "count": len(list)})
			}
			if len(list) == 0 {
				output.Info("No alerts")
				return nil
			}

			table := NewTable(output, "ID", "Date", "Symbol", "Source", "High", "High %", "Volume", "Vol %", "")
			for _, a := range list {
				status := output.Yellow("●")
				if a.Read {
					status = ""
				}
				table.AddRow(
					a.ID,
					a.TradingDate(),
					a.Symbol,
					output.SourceTag(a.DataSource),
					FormatPrice(a.TodayHigh),
					output.FormatPercent(a.HighBreakPercent),
					FormatVolume(a.TodayVolume),
					output.FormatPercent(a.VolumeBreakPercent),
					status,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&unread, "unread", false, "only unread alerts")

	return cmd
}

func newAlertsReadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark an alert as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}
			if err := app.Alerts.MarkRead(ctx, args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"id": args[0], "read": true})
			}
			output.Success("✓ Alert %s marked as read", args[0])
			return nil
		},
	}
}

func newAlertsReadAllCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every alert as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}
			n, err := app.Alerts.MarkAllRead(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"updated": n})
			}
			output.Success("✓ %d alert(s) marked as read", n)
			return nil
		},
	}
}

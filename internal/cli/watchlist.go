package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
)

// WatchlistFile is the YAML layout accepted by 'watchlist import':
//
//	watchlist:
//	  - symbol: RELIANCE
//	    name: Reliance Industries
type WatchlistFile struct {
	Watchlist []models.WatchlistEntry `yaml:"watchlist"`
}

// ParseWatchlistFile decodes and normalizes a watchlist YAML document.
// Symbols are upper-cased; blanks and repeats are dropped and a malformed
// symbol rejects the whole file.
func ParseWatchlistFile(data []byte) ([]models.WatchlistEntry, error) {
	var file WatchlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "watchlist yaml: %v", err)
	}

	seen := make(map[string]bool, len(file.Watchlist))
	entries := make([]models.WatchlistEntry, 0, len(file.Watchlist))
	for _, e := range file.Watchlist {
		if strings.TrimSpace(e.Symbol) == "" {
			continue
		}
		symbol, err := models.NormalizeSymbol(e.Symbol)
		if err != nil {
			return nil, err
		}
		if seen[symbol] {
			continue
		}
		e.Symbol = symbol
		seen[e.Symbol] = true
		e.Name = strings.TrimSpace(e.Name)
		entries = append(entries, e)
	}
	return entries, nil
}

func addWatchlistCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"wl"},
		Short:   "Manage the scanned watchlist",
	}

	cmd.AddCommand(newWatchlistAddCmd(app))
	cmd.AddCommand(newWatchlistRemoveCmd(app))
	cmd.AddCommand(newWatchlistListCmd(app))
	cmd.AddCommand(newWatchlistImportCmd(app))

	rootCmd.AddCommand(cmd)
}

func newWatchlistAddCmd(app *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add SYMBOL",
		Short: "Add a symbol to the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			symbol, err := models.NormalizeSymbol(args[0])
			if err != nil {
				return err
			}
			if err := app.openStore(ctx); err != nil {
				return err
			}

			entry := models.WatchlistEntry{Symbol: symbol, Name: name}
			if err := app.Store.AddToWatchlist(ctx, entry); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(entry)
			}
			output.Success("✓ Added %s to watchlist", symbol)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")

	return cmd
}

func newWatchlistRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "remove SYMBOL",
		Aliases: []string{"rm"},
		Short:   "Remove a symbol from the watchlist",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}
			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			if err := app.Store.RemoveFromWatchlist(ctx, symbol); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": symbol})
			}
			output.Success("✓ Removed %s from watchlist", symbol)
			return nil
		},
	}
}

func newWatchlistListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List watchlist symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}
			entries, err := app.Store.GetWatchlist(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"watchlist": entries, "count": len(entries)})
			}
			if len(entries) == 0 {
				output.Info("Watchlist is empty")
				return nil
			}
			table := NewTable(output, "Symbol", "Name", "Added")
			for _, e := range entries {
				table.AddRow(e.Symbol, TruncateString(e.Name, 32), FormatDateTime(e.AddedAt))
			}
			table.Render()
			return nil
		},
	}
}

func newWatchlistImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Add every symbol from a YAML file",
		Long: `Add every symbol listed in a YAML file to the watchlist. Existing symbols
keep their place and take the new name.

  watchlist:
    - symbol: RELIANCE
      name: Reliance Industries
    - symbol: INFY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			entries, err := ParseWatchlistFile(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			if err := app.openStore(ctx); err != nil {
				return err
			}
			if err := importWatchlist(ctx, app, entries); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"imported": len(entries)})
			}
			output.Success("✓ Imported %d symbol(s)", len(entries))
			return nil
		},
	}
}

func importWatchlist(ctx context.Context, app *App, entries []models.WatchlistEntry) error {
	for _, e := range entries {
		if err := app.Store.AddToWatchlist(ctx, e); err != nil {
			return fmt.Errorf("adding %s: %w", e.Symbol, err)
		}
	}
	app.Logger.Info().Int("count", len(entries)).Msg("Watchlist imported")
	return nil
}

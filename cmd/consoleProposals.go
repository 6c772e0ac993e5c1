package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"emojivote/internal/bootstrap"
	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	"emojivote/internal/usecase/voteconsole"
)

var consoleProposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Start the open proposals console",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		if refreshInterval <= 0 {
			refreshInterval = 5 * time.Second
		}

		model := voteconsole.NewProposalModel(ctx, app.Service, voteconsole.Options{
			Actor:           actor,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run proposals console")
		}
		return nil
	}),
}

func init() {
	consoleCmd.AddCommand(consoleProposalsCmd)
	consoleProposalsCmd.Flags().String("actor", "", "Admin user id used for votes, blocks and force")
	consoleProposalsCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
}

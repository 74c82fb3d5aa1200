package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <message-id>",
	Short: "Fetch a stored message and run it through the handlers again",
	Long:  "Fetches a message from the gateway, normalizes it as a messages.upsert delivery and dispatches it to the enabled handlers.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		ev, err := client.GetMessage(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p, err := buildPipeline(cmd.Context(), cfg, client, nil, log)
		if err != nil {
			return err
		}
		defer p.Close()

		result := p.dispatcher.DispatchEvent(cmd.Context(), ev)

		out := cmd.OutOrStdout()
		printTitle(out, "Replayed "+ev.MessageID)
		printField(out, "category", result.Category)
		printField(out, "outcome", result.Outcome)
		printField(out, "handlers", fmt.Sprintf("%d (%d failed)", result.Handlers, result.Failed))
		if result.Err != nil {
			printWarn(out, result.Err.Error())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

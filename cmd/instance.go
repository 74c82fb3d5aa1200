package cmd

import (
	"fmt"
	"time"

	"wakit/pkg/connection"

	"github.com/spf13/cobra"
)

var (
	connectAttempts int
	connectDelay    time.Duration
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage the Evolution API instance",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the configured instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		info, err := client.CreateInstance(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printTitle(out, "Instance created")
		printField(out, "name", info.Name)
		printField(out, "status", info.Status)
		if info.APIKey != "" {
			printField(out, "api key", info.APIKey)
		}
		if info.QRCode != "" {
			manager := connection.NewManager(client, connection.Options{QROut: out}, nil)
			manager.RenderQR(info.QRCode)
		}
		return nil
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the configured instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		if err := client.DeleteInstance(cmd.Context()); err != nil {
			return err
		}
		printOK(cmd.OutOrStdout(), fmt.Sprintf("Instance %s deleted", client.Instance()))
		return nil
	},
}

var instanceStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the connection state of the instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		state, err := client.ConnectionState(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printField(out, "instance", client.Instance())
		fmt.Fprintf(out, "%s %s\n", styles.key.Render("state:"), stateStyle(state).Render(state))
		return nil
	},
}

var instanceInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show instance details and the linked account",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		info, err := client.FetchInstance(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printTitle(out, info.Name)
		printField(out, "status", info.Status)
		if info.Linked() {
			printField(out, "owner", info.OwnerJID)
		} else {
			printWarn(out, "No WhatsApp account linked")
		}
		return nil
	},
}

var instanceConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Link the instance by scanning QR codes until it is open",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		client, log, err := commandClient()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		manager := connection.NewManager(client, connection.Options{
			Attempts: connectAttempts,
			Delay:    connectDelay,
			QROut:    out,
		}, log)

		result, err := manager.Initialize(cmd.Context())
		if err != nil {
			return err
		}
		if result != connection.ResultOpen {
			if err := manager.EnsureConnected(cmd.Context()); err != nil {
				return err
			}
		}

		printOK(out, fmt.Sprintf("Instance %s is connected", client.Instance()))
		return nil
	},
}

func init() {
	instanceConnectCmd.Flags().IntVar(&connectAttempts, "attempts", 3, "QR rounds before giving up")
	instanceConnectCmd.Flags().DurationVar(&connectDelay, "delay", 30*time.Second, "time to scan each QR code")

	instanceCmd.AddCommand(instanceCreateCmd, instanceDeleteCmd, instanceStateCmd, instanceInfoCmd, instanceConnectCmd)
	rootCmd.AddCommand(instanceCmd)
}

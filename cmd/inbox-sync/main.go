package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"inbox-sync-go/internal/app"
	"inbox-sync-go/internal/crypto"
	"inbox-sync-go/internal/outbound"
)

var rootCmd = &cobra.Command{
	Use:   "inbox-sync",
	Short: "Gmail reply sync, classification and auto-actions",
	Long: `inbox-sync pulls replies from connected Gmail mailboxes, links them to
sent campaign email, classifies them and applies automatic actions.

Without a subcommand it runs the HTTP API and the periodic sync.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic sync",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle over every connected mailbox and print the results",
	RunE:  runSync,
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a workspace's Gmail mailbox through the OAuth consent flow",
	RunE:  runConnect,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver one scheduled campaign step",
	RunE:  runSend,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh token encryption key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var (
	workspaceFlag string
	scheduledFlag string
	draft         outbound.Draft
)

func init() {
	connectCmd.Flags().StringVar(&workspaceFlag, "workspace", "", "Workspace to connect (required)")
	connectCmd.MarkFlagRequired("workspace")

	sendCmd.Flags().StringVar(&workspaceFlag, "workspace", "", "Workspace whose mailbox sends (required)")
	sendCmd.Flags().StringVar(&scheduledFlag, "scheduled-email", "", "Scheduled email id (required)")
	sendCmd.Flags().StringVar(&draft.Subject, "subject", "", "Subject of the step")
	sendCmd.Flags().StringVar(&draft.Body, "body", "", "HTML body of the step")
	sendCmd.Flags().StringVar(&draft.Signature, "signature", "", "Signature appended to the body")
	sendCmd.Flags().StringVar(&draft.FromName, "from-name", "", "Display name of the sender")
	sendCmd.MarkFlagRequired("workspace")
	sendCmd.MarkFlagRequired("scheduled-email")

	rootCmd.AddCommand(serveCmd, syncCmd, connectCmd, sendCmd, keygenCmd)
}

func build() (*app.App, error) {
	cfg, err := app.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := build()
	if err != nil {
		return err
	}
	return a.Run()
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := build()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.SyncOnce(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runConnect(cmd *cobra.Command, args []string) error {
	a, err := build()
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := a.Connect(cmd.Context(), workspaceFlag, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nConnected %s to workspace %s\n", conn.Email, conn.WorkspaceID)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := build()
	if err != nil {
		return err
	}
	defer a.Close()

	sent, err := a.SendStep(cmd.Context(), workspaceFlag, scheduledFlag, draft)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s on thread %s\n", sent.MessageID, sent.ThreadID)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("inbox-sync: %v", err)
		os.Exit(1)
	}
}

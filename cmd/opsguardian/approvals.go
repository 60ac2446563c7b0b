package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/config"
)

func newApprovalsCmd(opts *rootOptions) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and resolve approval requests on a running server",
	}
	cmd.PersistentFlags().StringVar(&flags.server, "server", "", "Server base URL (default http://localhost:<server.port>)")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "API token (default $"+tokenEnv+")")

	cmd.AddCommand(
		newApprovalsListCmd(opts, flags),
		newApprovalsApproveCmd(opts, flags),
		newApprovalsDenyCmd(opts, flags),
	)
	return cmd
}

func clientFor(opts *rootOptions, flags *clientFlags) (*apiClient, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newAPIClient(cfg, *flags)
}

func newApprovalsListCmd(opts *rootOptions, flags *clientFlags) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(opts, flags)
			if err != nil {
				return err
			}
			path := "/api/approvals"
			if pending {
				path += "?status=pending"
			}
			var reqs []approval.Request
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &reqs); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRequests(reqs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Only show pending requests")
	return cmd
}

func newApprovalsApproveCmd(opts *rootOptions, flags *clientFlags) *cobra.Command {
	var contentFile string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and execute a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(opts, flags)
			if err != nil {
				return err
			}
			body := map[string]string{}
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				body["content"] = string(data)
			}
			var req approval.Request
			if err := client.do(cmd.Context(), http.MethodPost, "/api/approvals/"+url.PathEscape(args[0])+"/approve", body, &req); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderResult(req))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentFile, "content-file", "", "Replace the script body or command with the contents of this file")
	return cmd
}

func newApprovalsDenyCmd(opts *rootOptions, flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(opts, flags)
			if err != nil {
				return err
			}
			var req approval.Request
			if err := client.do(cmd.Context(), http.MethodPost, "/api/approvals/"+url.PathEscape(args[0])+"/deny", nil, &req); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderResult(req))
			return nil
		},
	}
}

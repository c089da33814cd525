package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/becmacc/beyflow-chat-sub000/internal/middleware"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

func readGraph(path string) (workflow.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Graph{}, err
	}
	return workflow.Parse(data)
}

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		inputJSON string
		strict    bool
	)
	cmd := &cobra.Command{
		Use:   "run <graph.json>",
		Short: "Execute a workflow graph once against the configured services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			g, err := readGraph(args[0])
			if err != nil {
				return err
			}
			input := map[string]any{}
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			rt.hub.Start(cmd.Context())
			defer rt.hub.Close()

			res, runErr := rt.executor.Execute(cmd.Context(), g, input, workflow.Options{Strict: strict})
			var se *workflow.StepError
			if runErr != nil && !errors.As(runErr, &se) {
				return runErr
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON object passed to the trigger nodes")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on cycles instead of skipping the nodes involved")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json>",
		Short: "Check a workflow graph and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readGraph(args[0])
			if err != nil {
				return err
			}
			order, err := workflow.OrderStrict(g)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes, order %v\n", len(g.Nodes), order)
			return nil
		},
	}
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		source string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a webhook bearer token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Webhook.Secret == "" {
				return errors.New("webhook.secret is not configured")
			}
			tok, err := middleware.Sign(cfg.Webhook.Secret, source, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "webhook", "caller recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

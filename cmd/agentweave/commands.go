package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/server"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentweave",
		Short:        "agentweave - composable agent execution engine",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file (defaults apply when empty)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildAgentsCmd(),
	)

	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured agents over HTTP",
		Example: `  agentweave serve --config agentweave.yaml
  agentweave serve --config agentweave.yaml --addr :9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := setup(ctx, configPath(cmd))
			if err != nil {
				return err
			}
			defer app.close(ctx)

			srv := server.New(app.engine, func(o *server.Options) {
				o.Addr = app.cfg.Server.Addr
				if addr != "" {
					o.Addr = addr
				}

				o.Registry = app.registry
				o.RequestsPerSecond = app.cfg.Server.RequestsPerSecond
				o.Burst = app.cfg.Server.Burst
				o.ShutdownTimeout = app.cfg.Server.ShutdownTimeout
				o.Logger = app.logger
			})

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return cmd
}

func buildRunCmd() *cobra.Command {
	var (
		agentName string
		input     string
		sessionID string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Invoke one agent and print its output as JSON",
		Example: `  agentweave run --agent writer --input '{"message":"a poem about go"}'
  echo '{"message":"hi"}' | agentweave run --agent writer --input - --stream`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			msg, err := readInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			app, err := setup(ctx, configPath(cmd))
			if err != nil {
				return err
			}
			defer app.close(ctx)

			out := cmd.OutOrStdout()

			if stream {
				var s core.Stream

				if sessionID != "" {
					s, _, err = app.engine.InvokeSessionStream(ctx, agentName, sessionID, msg)
				} else {
					s, err = app.engine.InvokeStream(ctx, agentName, msg)
				}

				if err != nil {
					return err
				}

				return printStream(out, s)
			}

			var result core.Message

			if sessionID != "" {
				result, _, err = app.engine.InvokeSession(ctx, agentName, sessionID, msg)
			} else {
				result, err = app.engine.Invoke(ctx, agentName, msg)
			}

			if err != nil {
				return err
			}

			return printJSON(out, result)
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "Name of the agent to invoke")
	cmd.Flags().StringVarP(&input, "input", "i", "{}", "Input message as JSON object, or - to read stdin")
	cmd.Flags().StringVar(&sessionID, "session", "", "Run the invocation as a turn of this session")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print streamed text deltas as they arrive")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func buildAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd.Context(), configPath(cmd))
			if err != nil {
				return err
			}
			defer app.close(cmd.Context())

			for _, info := range app.engine.Agents() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", info.Name, info.Description)
			}

			return nil
		},
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("AGENTWEAVE_CONFIG")
	}

	return path
}

func readInput(stdin io.Reader, raw string) (core.Message, error) {
	if raw == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return core.Message{}, fmt.Errorf("read stdin: %w", err)
		}

		raw = string(b)
	}

	msg := core.NewMessage()
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return core.Message{}, fmt.Errorf("input must be a JSON object: %w", err)
	}

	return msg, nil
}

func printJSON(w io.Writer, m core.Message) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(m)
}

// printStream echoes text deltas and prints the merged result at the end.
func printStream(w io.Writer, s core.Stream) error {
	acc := core.NewMessage()

	for c := range s {
		if c.Err != nil {
			return c.Err
		}

		for _, delta := range c.Text {
			fmt.Fprint(w, delta)
		}

		if err := core.Merge(&acc, c); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)

	return printJSON(w, acc)
}

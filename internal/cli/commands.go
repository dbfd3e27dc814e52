package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultServer is used when neither --server nor FLOWREC_API is set.
const DefaultServer = "http://127.0.0.1:8190"

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
	nameColor = color.New(color.FgCyan, color.Bold)
)

// NewRootCommand builds the flowctl command tree.
func NewRootCommand() *cobra.Command {
	client := &Client{}
	server := os.Getenv("FLOWREC_API")
	if server == "" {
		server = DefaultServer
	}

	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Record and replay browser flows through a flowrec server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client.BaseURL = server
		},
	}
	root.PersistentFlags().StringVar(&server, "server", server, "flowrec API base URL (env FLOWREC_API)")

	root.AddCommand(
		newStartCommand(client),
		newStopCommand(client),
		newCancelCommand(client),
		newStatusCommand(client),
		newListCommand(client),
		newShowCommand(client),
		newRunCommand(client),
		newDeleteCommand(client),
		newExportCommand(client),
		newImportCommand(client),
		newRunsCommand(client),
		newSnapshotsCommand(client),
	)
	return root
}

// Execute runs flowctl with the process arguments.
func Execute() error {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		failColor.Fprintln(root.ErrOrStderr(), "Error: "+err.Error())
	}
	return err
}

func newStartCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording the browser's foreground tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var state RecordingState
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/recording/start", nil, &state); err != nil {
				return err
			}
			okColor.Fprint(cmd.OutOrStdout(), "recording")
			fmt.Fprintf(cmd.OutOrStdout(), " tab %s session %s\n", state.TabID, state.SessionID)
			return nil
		},
	}
}

func newStopCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop recording and save the flow under name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Saved bool `json:"saved"`
			}
			body := map[string]string{"name": args[0]}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/recording/stop", body, &out); err != nil {
				return err
			}
			if !out.Saved {
				dimColor.Fprintln(cmd.OutOrStdout(), "no recording was active")
				return nil
			}
			okColor.Fprint(cmd.OutOrStdout(), "saved ")
			nameColor.Fprintln(cmd.OutOrStdout(), args[0])
			return nil
		},
	}
}

func newCancelCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Discard the current recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/recording/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "recording cancelled")
			return nil
		},
	}
}

func newStatusCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recording state and captured steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var state RecordingState
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/recording", nil, &state); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !state.IsRecording {
				dimColor.Fprintln(w, "idle")
				return nil
			}
			okColor.Fprint(w, "recording")
			fmt.Fprintf(w, " tab %s since %s\n", state.TabID, state.StartedAt)
			printSteps(w, state.Steps)
			return nil
		},
	}
}

func newListCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Flows []Flow `json:"flows"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/flows", nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out.Flows) == 0 {
				dimColor.Fprintln(w, "no flows saved")
				return nil
			}
			for _, f := range out.Flows {
				nameColor.Fprint(w, f.Name)
				fmt.Fprintf(w, "\t%d steps\n", len(f.Steps))
			}
			return nil
		},
	}
}

func newShowCommand(client *Client) *cobra.Command {
	var display bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print the steps of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, path := http.MethodGet, flowPath(args[0])
			if display {
				method, path = http.MethodPost, flowPath(args[0], "/display")
			}
			var f Flow
			if err := client.do(cmd.Context(), method, path, nil, &f); err != nil {
				return err
			}
			nameColor.Fprintln(cmd.OutOrStdout(), f.Name)
			printSteps(cmd.OutOrStdout(), f.Steps)
			return nil
		},
	}
	cmd.Flags().BoolVar(&display, "display", false, "Also show the steps in the recorder panel")
	return cmd
}

func newRunCommand(client *Client) *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Replay a flow in a fresh tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flowPath(args[0], "/run?wait=true")
			if detach {
				path = flowPath(args[0], "/run")
			}
			var res RunResult
			if err := client.do(cmd.Context(), http.MethodPost, path, nil, &res); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if detach {
				fmt.Fprintf(w, "run %s started\n", res.RunID)
				return nil
			}
			if !res.OK {
				failColor.Fprint(w, "FAILED")
				fmt.Fprintf(w, " %s after %d/%d steps: %s\n", res.Name, res.Executed, res.Steps, res.Error)
				if res.Screenshot != "" {
					dimColor.Fprintf(w, "screenshot: flowctl snapshots get %s -o failure.png\n", res.Screenshot)
				}
				return fmt.Errorf("replay of %s failed", res.Name)
			}
			okColor.Fprint(w, "OK")
			fmt.Fprintf(w, " %s %d steps in %dms (run %s)\n", res.Name, res.Executed, res.DurationMS, res.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Return once the replay has started")
	return cmd
}

func newDeleteCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.do(cmd.Context(), http.MethodDelete, flowPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newExportCommand(client *Client) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Write a flow as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f Flow
			if err := client.do(cmd.Context(), http.MethodGet, flowPath(args[0]), nil, &f); err != nil {
				return err
			}
			var data []byte
			var err error
			switch format {
			case "json":
				data, err = json.MarshalIndent(f, "", "  ")
				data = append(data, '\n')
			case "yaml", "yml":
				data, err = yaml.Marshal(f)
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newImportCommand(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "import <name> <file>",
		Short: "Store a flow from a JSON or YAML file, replacing any flow of that name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			steps, err := parseSteps(data)
			if err != nil {
				return err
			}
			body := map[string]any{"steps": steps}
			if err := client.do(cmd.Context(), http.MethodPut, flowPath(args[0]), body, nil); err != nil {
				return err
			}
			okColor.Fprint(cmd.OutOrStdout(), "imported ")
			nameColor.Fprint(cmd.OutOrStdout(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), " (%d steps)\n", len(steps))
			return nil
		},
	}
}

func printSteps(w io.Writer, steps []Step) {
	for i, s := range steps {
		dimColor.Fprintf(w, "%3d ", i)
		fmt.Fprintln(w, describe(s))
	}
}

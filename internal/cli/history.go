package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newRunsCommand(client *Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent replays, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Runs []RunResult `json:"runs"`
			}
			path := "/api/v1/runs?limit=" + strconv.Itoa(limit)
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out.Runs) == 0 {
				dimColor.Fprintln(w, "no runs yet")
				return nil
			}
			for _, r := range out.Runs {
				if r.OK {
					okColor.Fprint(w, "OK    ")
				} else {
					failColor.Fprint(w, "FAIL  ")
				}
				nameColor.Fprint(w, r.Name)
				fmt.Fprintf(w, " %d/%d steps %dms", r.Executed, r.Steps, r.DurationMS)
				dimColor.Fprintf(w, " %s %s\n", r.RunID, r.FinishedAt)
				if r.Error != "" {
					fmt.Fprintf(w, "      %s\n", r.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func snapshotPath(id string, suffix ...string) string {
	p := "/api/v1/snapshots/" + url.PathEscape(id)
	for _, s := range suffix {
		p += s
	}
	return p
}

func newSnapshotsCommand(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List failure screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Snapshots []Snapshot `json:"snapshots"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/snapshots", nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range out.Snapshots {
				fmt.Fprintf(w, "%s ", s.ID)
				nameColor.Fprint(w, s.Flow)
				fmt.Fprintf(w, " step %d: %s\n", s.StepIndex, s.Error)
			}
			return nil
		},
	}

	var output string
	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Download the screenshot of a failed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if err := client.do(cmd.Context(), http.MethodGet, snapshotPath(args[0], "/image"), nil, &data); err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete the screenshot of a failed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.do(cmd.Context(), http.MethodDelete, snapshotPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(get, del)
	return cmd
}

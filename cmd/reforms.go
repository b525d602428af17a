package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/policyscope/impact-cli/internal/model"
	"github.com/policyscope/impact-cli/internal/store"
)

var reformsCmd = &cobra.Command{
	Use:   "reforms",
	Short: "Manage tracked reforms",
	Long:  "Commands for listing tracked reforms and registering new ones from parameter files.",
}

// -- reforms list --

var reformsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked reforms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		reforms, err := env.Store.ListReforms(ctx)
		if err != nil {
			return eris.Wrap(err, "reforms list")
		}

		if len(reforms) == 0 {
			fmt.Fprintln(os.Stderr, "No reforms found.")
			return nil
		}

		formatReformsList(os.Stdout, reforms)
		return nil
	},
}

// -- reforms add --

var reformsAddCmd = &cobra.Command{
	Use:   "add <params-file>",
	Short: "Register a reform from a parameter file",
	Long:  "Loads a YAML reform parameter file and registers it as a tracked reform.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		id, _ := cmd.Flags().GetString("id")
		state, _ := cmd.Flags().GetString("state")
		label, _ := cmd.Flags().GetString("label")
		description, _ := cmd.Flags().GetString("description")
		billURL, _ := cmd.Flags().GetString("bill-url")

		params, err := model.LoadParamsFile(args[0])
		if err != nil {
			return eris.Wrap(err, "reforms add")
		}

		reform := &model.Reform{
			ID:          id,
			State:       state,
			Label:       label,
			Description: description,
			BillURL:     billURL,
			Params:      params,
		}
		if err := env.Store.SaveReform(ctx, reform); err != nil {
			return eris.Wrap(err, "reforms add")
		}

		fmt.Printf("Registered reform %s (%s, %d parameters)\n", reform.ID, reform.State, len(params))
		return nil
	},
}

// -- reforms import --

var reformsImportCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import all reform manifests from a directory",
	Long:  "Loads every YAML reform manifest in the directory (default compute.reforms_dir) and registers them as tracked reforms.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		dir := cfg.Compute.ReformsDir
		if len(args) > 0 {
			dir = args[0]
		}

		n, err := importReforms(ctx, env.Store, dir)
		if err != nil {
			return eris.Wrap(err, "reforms import")
		}

		fmt.Printf("Imported %d reforms from %s\n", n, dir)
		return nil
	},
}

// importReforms registers every manifest in dir, returning how many were
// saved.
func importReforms(ctx context.Context, st store.Store, dir string) (int, error) {
	reforms, err := model.LoadReformsDir(dir)
	if err != nil {
		return 0, err
	}
	for i := range reforms {
		if err := st.SaveReform(ctx, &reforms[i]); err != nil {
			return i, err
		}
	}
	return len(reforms), nil
}

// -- reforms runs --

var reformsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List compute run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		reformID, _ := cmd.Flags().GetString("reform-id")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{
			ReformID: reformID,
			Status:   model.ComputeStatus(status),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "reforms runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	reformsAddCmd.Flags().String("id", "", "reform identifier, e.g. sc-h4216")
	reformsAddCmd.Flags().String("state", "", "two-letter state code")
	reformsAddCmd.Flags().String("label", "", "human-readable reform label")
	reformsAddCmd.Flags().String("description", "", "longer reform description")
	reformsAddCmd.Flags().String("bill-url", "", "link to the bill text")
	_ = reformsAddCmd.MarkFlagRequired("id")
	_ = reformsAddCmd.MarkFlagRequired("state")

	reformsRunsCmd.Flags().String("reform-id", "", "filter by reform")
	reformsRunsCmd.Flags().String("status", "", "filter by run status (computed, failed, skipped)")
	reformsRunsCmd.Flags().Int("limit", 50, "max number of runs to display")

	reformsCmd.AddCommand(reformsListCmd)
	reformsCmd.AddCommand(reformsAddCmd)
	reformsCmd.AddCommand(reformsImportCmd)
	reformsCmd.AddCommand(reformsRunsCmd)
	rootCmd.AddCommand(reformsCmd)
}

// formatReformsList writes a tabular list of reforms to w.
func formatReformsList(out io.Writer, reforms []model.Reform) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tLABEL\tPARAMS\tCOMPUTED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t------\t--------")

	for _, r := range reforms {
		label := r.Label
		if len(label) > 40 {
			label = label[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
			r.ID, r.State, label, len(r.Params), r.Computed)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of compute runs to w.
func formatRunsList(out io.Writer, runs []model.ComputeRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREFORM\tYEAR\tSTATUS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t------\t-------\t--------")

	for _, r := range runs {
		dur := ""
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.ReformID,
			r.Year,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

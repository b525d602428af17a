package main

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policyscope/impact-cli/internal/model"
	"github.com/policyscope/impact-cli/internal/resilience"
	"github.com/policyscope/impact-cli/internal/store"
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute impact statistics for tracked reforms",
	Long:  "Fetches baseline/reform microdata for each tracked reform, runs the aggregation pipeline, and persists the resulting impact records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "compute")
		if err != nil {
			return err
		}
		defer env.Close()

		reformID, _ := cmd.Flags().GetString("reform-id")
		year, _ := cmd.Flags().GetInt("year")
		force, _ := cmd.Flags().GetBool("force")
		districtsOnly, _ := cmd.Flags().GetBool("districts-only")
		checkRemote, _ := cmd.Flags().GetBool("check-remote")

		if year == 0 {
			year = cfg.Compute.Year
		}

		return runCompute(ctx, env, computeOptions{
			ReformID:      reformID,
			Year:          year,
			Force:         force,
			DistrictsOnly: districtsOnly,
			CheckRemote:   checkRemote,
			Concurrency:   cfg.Compute.MaxConcurrentReforms,
		})
	},
}

func init() {
	computeCmd.Flags().String("reform-id", "", "compute a single reform instead of all tracked reforms")
	computeCmd.Flags().Int("year", 0, "simulation year (defaults to compute.year)")
	computeCmd.Flags().Bool("force", false, "recompute reforms already marked computed")
	computeCmd.Flags().Bool("districts-only", false, "refresh only the district breakdown of already-computed reforms")
	computeCmd.Flags().Bool("check-remote", false, "cross-check local revenue impact against the hosted economy endpoint")
	rootCmd.AddCommand(computeCmd)
}

// computeOptions controls one compute invocation.
type computeOptions struct {
	ReformID      string
	Year          int
	Force         bool
	DistrictsOnly bool
	CheckRemote   bool
	Concurrency   int
}

// runCompute processes the selected reforms concurrently. Individual reform
// failures are recorded and do not abort the batch; the batch as a whole
// fails if any reform failed.
func runCompute(ctx context.Context, env *env, opts computeOptions) error {
	reforms, err := selectReforms(ctx, env.Store, opts.ReformID)
	if err != nil {
		return err
	}
	if len(reforms) == 0 {
		zap.L().Info("no tracked reforms found")
		return nil
	}

	zap.L().Info("computing reforms",
		zap.Int("reforms", len(reforms)),
		zap.Int("year", opts.Year),
		zap.Int("concurrency", opts.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var succeeded, failed, skipped atomic.Int64

	for _, reform := range reforms {
		g.Go(func() error {
			log := zap.L().With(zap.String("reform_id", reform.ID))

			status, err := computeOne(gctx, env, &reform, opts)
			switch status {
			case model.StatusSkipped:
				skipped.Add(1)
				log.Info("reform already computed, skipping")
			case model.StatusFailed:
				failed.Add(1)
				log.Error("reform computation failed",
					zap.Error(err),
					zap.String("class", resilience.ClassifyError(err)),
				)
			default:
				succeeded.Add(1)
				log.Info("reform computation complete", zap.Int("year", opts.Year))
			}
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "compute batch")
	}

	zap.L().Info("compute complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("skipped", skipped.Load()),
		zap.Int64("failed", failed.Load()),
	)

	if n := failed.Load(); n > 0 {
		return eris.Errorf("compute: %d of %d reforms failed", n, len(reforms))
	}
	return nil
}

// selectReforms resolves the --reform-id flag: one reform when set,
// everything tracked otherwise.
func selectReforms(ctx context.Context, st store.Store, reformID string) ([]model.Reform, error) {
	if reformID != "" {
		reform, err := st.GetReform(ctx, reformID)
		if err != nil {
			return nil, eris.Wrapf(err, "compute: reform %s", reformID)
		}
		return []model.Reform{*reform}, nil
	}
	return st.ListReforms(ctx)
}

// computeOne computes and persists one reform under a fresh compute run. The
// returned status is also the run's final recorded status.
func computeOne(ctx context.Context, env *env, reform *model.Reform, opts computeOptions) (model.ComputeStatus, error) {
	run, err := env.Store.CreateRun(ctx, reform.ID, opts.Year)
	if err != nil {
		return model.StatusFailed, eris.Wrapf(err, "compute: create run for %s", reform.ID)
	}

	status, err := computeAndPersist(ctx, env, reform, opts)

	message := ""
	if err != nil {
		message = err.Error()
	}
	if fErr := env.Store.FinishRun(ctx, run.ID, status, message); fErr != nil {
		zap.L().Warn("failed to finalize compute run",
			zap.String("run_id", run.ID),
			zap.Error(fErr),
		)
	}
	return status, err
}

func computeAndPersist(ctx context.Context, env *env, reform *model.Reform, opts computeOptions) (model.ComputeStatus, error) {
	if reform.Computed && !opts.Force && !opts.DistrictsOnly {
		return model.StatusSkipped, nil
	}

	if opts.DistrictsOnly {
		districts, err := env.Engine.ComputeDistricts(ctx, reform, opts.Year)
		if err != nil {
			return model.StatusFailed, err
		}
		if err := env.Store.UpdateDistricts(ctx, reform.ID, opts.Year, districts); err != nil {
			return model.StatusFailed, err
		}
		return model.StatusComputed, nil
	}

	rec, err := env.Engine.ComputeReform(ctx, reform, opts.Year)
	if err != nil {
		return model.StatusFailed, err
	}
	if err := env.Store.UpsertImpacts(ctx, reform.ID, opts.Year, rec); err != nil {
		return model.StatusFailed, err
	}

	if opts.CheckRemote {
		checkRemoteRevenue(ctx, env, reform, opts.Year, rec.BudgetaryImpact.StateRevenueImpact)
	}
	return model.StatusComputed, nil
}

// checkRemoteRevenue compares the locally aggregated revenue impact against
// the hosted economy computation and warns on divergence above 1%. Failures
// here never fail the reform: the local record is already persisted.
func checkRemoteRevenue(ctx context.Context, env *env, reform *model.Reform, year int, local float64) {
	log := zap.L().With(zap.String("reform_id", reform.ID))

	policyID, err := env.Client.CreatePolicy(ctx, reform.Params)
	if err != nil {
		log.Warn("remote cross-check: create policy failed", zap.Error(err))
		return
	}
	econ, err := env.Client.Economy(ctx, policyID, reform.State, year)
	if err != nil {
		log.Warn("remote cross-check: economy fetch failed", zap.Error(err))
		return
	}

	remote := econ.RevenueImpact()
	diff := math.Abs(remote-local) / math.Max(math.Abs(remote), 1)
	if diff > 0.01 {
		log.Warn("local revenue impact diverges from hosted computation",
			zap.Float64("local", local),
			zap.Float64("remote", remote),
			zap.String("relative_diff", fmt.Sprintf("%.2f%%", diff*100)),
		)
		return
	}
	log.Info("remote cross-check passed",
		zap.Float64("local", local),
		zap.Float64("remote", remote),
	)
}

package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/calendar"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/eval"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/feature"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/forecast"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/model"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/provider"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/runlog"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
)

var (
	// Global flags
	dataDir   string
	modelDir  string
	codeTable string
	workers   int

	// Subcommand flags
	days       int
	outPath    string
	suffix     string
	runlogDir  string
	resumePath string
	itemID     string
	storeID    string
	holdout    int
	limit      int
	detail     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "m5-forecast",
		Short: "Batch forecasting tool for M5 retail sales data",
		Long: `Recursive multi-step sales forecasting over the M5 dataset.
Loads the CSV data files and a trained tree-ensemble model, then forecasts
every item/store series day by day, feeding each prediction back into the
lag and rolling-window features of the following days.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data/m5", "Directory holding calendar.csv, sell_prices.csv, sales_train_validation.csv")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "models", "Directory holding trained ensemble JSON files")
	rootCmd.PersistentFlags().StringVar(&codeTable, "code-table", "", "Persisted category code table (built from data when empty)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", runtime.NumCPU(), "Parallel series workers")

	// Subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(featuresCmd())
	rootCmd.AddCommand(evalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd forecasts every series and writes a submission file
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forecast all series and write a submission CSV",
		Long: `Forecasts every item/store series in the dataset for the given horizon
and writes the predictions in the M5 submission layout (id, F1..Fn).
Completed series are recorded to a run log so an interrupted batch can be
resumed with --resume.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			prov, fc, err := buildForecaster()
			if err != nil {
				return err
			}

			runner := forecast.NewRunner(fc, prov, workers)

			if runlogDir != "" {
				l, err := runlog.New(runlogDir)
				if err != nil {
					return fmt.Errorf("failed to open run log: %w", err)
				}
				defer l.Close()
				runner = runner.WithRunLog(l)
			}
			if resumePath != "" {
				done, err := runlog.Completed(resumePath, days, fc.ModelVersion())
				if err != nil {
					return fmt.Errorf("failed to read resume log: %w", err)
				}
				fmt.Printf("Resuming: %d series already complete\n", len(done))
				runner = runner.WithResume(done)
			}

			fmt.Printf("Forecasting %d series, horizon %d, %d workers\n", prov.NumSeries(), days, workers)
			start := time.Now()

			forecasts, err := runner.Run(ctx, days)
			if err != nil {
				return fmt.Errorf("batch run failed: %w", err)
			}

			out, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer out.Close()

			if err := forecast.WriteSubmission(out, forecasts, suffix); err != nil {
				return fmt.Errorf("failed to write submission: %w", err)
			}

			fmt.Printf("Wrote %d forecasts to %s in %v\n", len(forecasts), outPath, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 28, "Forecast horizon in days")
	cmd.Flags().StringVar(&outPath, "out", "submission.csv", "Output submission file")
	cmd.Flags().StringVar(&suffix, "suffix", "validation", "Submission id suffix")
	cmd.Flags().StringVar(&runlogDir, "runlog", "", "Run log directory (disabled when empty)")
	cmd.Flags().StringVar(&resumePath, "resume", "", "Run log file to resume from")

	return cmd
}

// forecastCmd forecasts a single series and prints JSON
func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast one series and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			prov, fc, err := buildForecaster()
			if err != nil {
				return err
			}

			store := series.NewStore(prov, fc.Params().Windows)
			h, err := store.Load(ctx, api.SeriesKey{ItemID: itemID, StoreID: storeID})
			if err != nil {
				return err
			}

			result, err := fc.Forecast(ctx, h, days)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Item id (e.g. HOBBIES_1_001)")
	cmd.Flags().StringVar(&storeID, "store", "", "Store id (e.g. CA_1)")
	cmd.Flags().IntVar(&days, "days", 28, "Forecast horizon in days")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("store")

	return cmd
}

// encodeCmd builds and persists the category code table
func encodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build the category code table from the data and save it",
		Long: `Assigns stable integer codes to every item, dept, cat, store, and state id
in the sales data and writes the table to a JSON file. Training and serving
both load this file, so the encodings never drift between the two.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, err := provider.NewCSVProvider(dataDir, nil)
			if err != nil {
				return fmt.Errorf("failed to open data: %w", err)
			}

			if err := prov.CodeTable().Save(outPath); err != nil {
				return fmt.Errorf("failed to save code table: %w", err)
			}
			fmt.Printf("Code table saved to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "code_table.json", "Output file")

	return cmd
}

// featuresCmd exports the training feature matrix for one series
func featuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Export the feature matrix for one series as CSV",
		Long: `Replays a series through the feature engine and writes one row per day:
the full feature vector followed by the sales target. The rows are exactly
what the recursive loop computes at inference time for the same days.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			prov, fc, err := buildForecaster()
			if err != nil {
				return err
			}

			s, err := prov.Series(ctx, api.SeriesKey{ItemID: itemID, StoreID: storeID})
			if err != nil {
				return err
			}

			rows, targets, err := fc.TrainingMatrix(s)
			if err != nil {
				return err
			}

			out, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer out.Close()

			cw := csv.NewWriter(out)
			header := append(append([]string{}, feature.Names[:]...), "target")
			if err := cw.Write(header); err != nil {
				return err
			}
			for i, row := range rows {
				rec := make([]string, 0, len(row)+1)
				for _, v := range row {
					rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
				}
				rec = append(rec, strconv.FormatFloat(targets[i], 'f', -1, 64))
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}

			fmt.Printf("Wrote %d rows to %s\n", len(rows), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Item id")
	cmd.Flags().StringVar(&storeID, "store", "", "Store id")
	cmd.Flags().StringVar(&outPath, "out", "features.csv", "Output file")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("store")

	return cmd
}

// evalCmd scores the model on a holdout window
func evalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate forecast accuracy on a holdout window",
		Long: `Withholds the last N days of each series, forecasts them from the
truncated history, and reports RMSE/MAE/MAPE against the withheld actuals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			prov, fc, err := buildForecaster()
			if err != nil {
				return err
			}

			runner, err := eval.NewRunner(fc, prov, holdout, workers)
			if err != nil {
				return err
			}

			var keys []api.SeriesKey
			if limit > 0 {
				all, err := prov.Keys(ctx)
				if err != nil {
					return err
				}
				if limit < len(all) {
					all = all[:limit]
				}
				keys = all
			}

			report, err := runner.Evaluate(ctx, keys, detail)
			if err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}

			fmt.Printf("=== Holdout Evaluation ===\n")
			fmt.Printf("Series:    %d\n", report.NumSeries)
			fmt.Printf("Horizon:   %d days\n", report.Horizon)
			fmt.Printf("Mean RMSE: %.4f (p50 %.4f, p95 %.4f, std %.4f)\n",
				report.MeanRMSE, report.P50RMSE, report.P95RMSE, report.StdRMSE)
			fmt.Printf("Mean MAE:  %.4f\n", report.MeanMAE)
			fmt.Printf("Mean MAPE: %.4f\n", report.MeanMAPE)

			if outPath != "" {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0644); err != nil {
					return err
				}
				fmt.Printf("Report written to %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&holdout, "holdout", 28, "Holdout window in days")
	cmd.Flags().IntVar(&limit, "limit", 0, "Evaluate only the first N series (0 = all)")
	cmd.Flags().BoolVar(&detail, "detail", false, "Include per-series metrics in the report")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the JSON report to this file")

	return cmd
}

// buildForecaster wires the CSV provider, code table, and active model.
func buildForecaster() (*provider.CSVProvider, *forecast.Forecaster, error) {
	var codes *feature.CodeTable
	if codeTable != "" {
		var err error
		codes, err = feature.LoadCodeTable(codeTable)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load code table: %w", err)
		}
	}

	prov, err := provider.NewCSVProvider(dataDir, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data in %s: %w", dataDir, err)
	}

	registry := model.NewRegistry(modelDir)
	if _, err := registry.LoadDir(); err != nil {
		return nil, nil, fmt.Errorf("failed to load models: %w", err)
	}
	active := registry.Active()
	if active == nil {
		return nil, nil, fmt.Errorf("no model found in %s", modelDir)
	}

	params := api.DefaultParams()
	fc := forecast.New(params, active.Ensemble, calendar.NewFallback(prov.CalendarTable()), prov, nil)
	return prov, fc, nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stemsplit/config"
	"stemsplit/logger"
	"stemsplit/separation"
	"stemsplit/store"
)

// separateCmd runs a separation job without playing the result
var separateCmd = &cobra.Command{
	Use:   "separate <audio file>",
	Short: "Separate a track into stems and download them",
	Long: `Upload an audio file to the separation service, wait for the job to finish
and download the stems into a local directory, without starting playback.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

		push, _ := cmd.Flags().GetBool("push")
		res, err := separateFile(cmd.Context(), cfg, args[0], push)
		if err != nil {
			return err
		}

		fmt.Printf("%d stems downloaded to %s\n", len(res.Stems), res.Dir)
		return nil
	},
}

func init() {
	separateCmd.Flags().Bool("push", false, "push the separation result to the object store")
	rootCmd.AddCommand(separateCmd)
}

// separateFile drives one job end to end: upload, progress stream, download,
// and the optional push to the object store.
func separateFile(ctx context.Context, cfg *config.Config, path string, push bool) (*separation.Result, error) {
	client := separation.NewClient(cfg.Server.URL, cfg.Server.Timeout)

	jobID, err := client.Separate(ctx, path)
	if err != nil {
		return nil, err
	}

	fmt.Printf("separating %s\n", filepath.Base(path))
	final, err := client.Watch(ctx, jobID, func(p separation.JobProgress) {
		fmt.Printf("\r%3d%% %-60s", p.Progress, p.Message)
	})
	fmt.Println()
	if err != nil {
		return nil, err
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	res, err := client.FetchResult(ctx, jobID, final, filepath.Join(cacheDir, "stemsplit"))
	if err != nil {
		return nil, err
	}

	if push {
		if !cfg.Store.Enabled {
			return nil, fmt.Errorf("--push requires store.enabled in the configuration")
		}
		st, err := store.New(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := st.PushResult(ctx, res); err != nil {
			// The local result is intact; pushing is best-effort extra.
			slog.Warn("failed to push result to object store", slog.Any("err", err))
		}
	}

	return res, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stemsplit/config"
	"stemsplit/logger"
	"stemsplit/playback"
	"stemsplit/separation"
	"stemsplit/tui"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stemsplit <audio file | stems directory>",
	Short: "Split a track into stems and play them as a synchronized mix",
	Long: `Stemsplit sends an audio file to a StemSplitter separation service, follows
the separation job, downloads the resulting stems and plays them back as a
synchronized multi-track mix: per-stem solo, mute and volume, master volume,
seeking, and automatic drift correction between stems.

Pointing it at a directory of already separated stems skips the service and
plays them directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./stemsplit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().String("server", "", "separation server URL")
	rootCmd.Flags().Bool("push", false, "push the separation result to the object store")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("server.url", rootCmd.Flags().Lookup("server"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if verbose {
		viper.Set("logging.level", "debug")
	}
}

// runPlay builds a playback session for the given input and hands it to the
// terminal UI.
func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// The UI owns stdout; logs go to stderr.
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	input := args[0]
	info, err := os.Stat(input)
	if err != nil {
		return err
	}

	var (
		stems []playback.Stem
		title string
	)
	if info.IsDir() {
		stems, err = localStems(input)
		title = filepath.Base(input)
	} else {
		push, _ := cmd.Flags().GetBool("push")
		var res *separation.Result
		res, err = separateFile(cmd.Context(), cfg, input, push)
		if err == nil {
			stems = resultStems(res)
			title = res.Name
		}
	}
	if err != nil {
		return err
	}

	session := playback.New(cfg.Playback)
	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start playback session: %w", err)
	}
	defer session.Close()

	if err := session.Registry().SetStems(stems); err != nil {
		return err
	}

	return tui.Run(session, title)
}

// localStems builds the stem list from a directory of audio files.
func localStems(dir string) ([]playback.Stem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var stems []playback.Stem
	for _, e := range entries {
		if e.IsDir() || !decodableExt(e.Name()) {
			continue
		}
		name := e.Name()
		stems = append(stems, playback.Stem{
			ID:  strings.TrimSuffix(name, filepath.Ext(name)),
			URL: filepath.Join(dir, name),
		})
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("no audio files in %s", dir)
	}

	sort.Slice(stems, func(i, j int) bool { return stems[i].ID < stems[j].ID })
	return stems, nil
}

func resultStems(res *separation.Result) []playback.Stem {
	stems := make([]playback.Stem, 0, len(res.Stems))
	for _, s := range res.Stems {
		stems = append(stems, playback.Stem{ID: s.ID, URL: s.Path, Meta: s.Analysis})
	}
	return stems
}

func decodableExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3", ".flac":
		return true
	default:
		return false
	}
}

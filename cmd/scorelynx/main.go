package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/scorelynx/cmd/scorelynx/commands"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

var (
	version   = "1.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "scorelynx",
	Short:         "ScoreLynx - website privacy and security scanner",
	Long:          "ScoreLynx scans websites for privacy and security properties, rates every site per check group and ranks the sites against each other.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := initLogging(); err != nil {
			return err
		}
		if err := ensureDirs(); err != nil {
			logrus.Warnf("Failed to ensure directories: %v", err)
		}
		if !viper.GetBool("quiet") && cmd.Name() != "completion" {
			printBanner()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.scorelynx/config.yaml)")
	flags.BoolP("quiet", "q", false, "quiet mode (no banner output)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("log-file", "", "log file path")
	flags.String("storage", "", "storage database path (overrides storage.path)")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("global.log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("global.log_format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("global.log_file", flags.Lookup("log-file"))
	_ = viper.BindPFlag("storage.path", flags.Lookup("storage"))

	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewScanListCommand())
	rootCmd.AddCommand(commands.NewSweepCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(commands.NewRankingCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewStatsCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))
	rootCmd.AddCommand(commands.NewCompletionCommand())

	installConsolidatedHelp(rootCmd)
	rootCmd.SetVersionTemplate(fmt.Sprintf("ScoreLynx %s (commit %s, built %s)\n", version, commit, buildDate))
}

func initConfig() error {
	if err := commands.RegisterDefaults(); err != nil {
		return err
	}
	viper.SetEnvPrefix("SCORELYNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := commands.ConfigDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(dir)
		viper.AddConfigPath("/etc/scorelynx/")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	} else {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
	return nil
}

func initLogging() error {
	logger, err := utils.NewLogger(utils.LogConfig{
		Level:   viper.GetString("global.log_level"),
		Format:  viper.GetString("global.log_format"),
		File:    viper.GetString("global.log_file"),
		Console: true,
	}, "scorelynx", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize structured logger, falling back: %v\n", err)
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}

	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)
	for _, hooks := range logger.Hooks {
		for _, h := range hooks {
			logrus.AddHook(h)
		}
	}
	return nil
}

func ensureDirs() error {
	cfg, err := commands.LoadConfig()
	if err != nil {
		return err
	}
	dirs := []string{cfg.Global.DataDir, cfg.Global.TempDir, cfg.Reporting.OutputDir}
	if cfg.Storage.Type == "sqlite" && cfg.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(cfg.Storage.Path))
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := utils.EnsureDir(d); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}
	return nil
}

func printBanner() {
	const banner = `
   ____                     _
  / ___|  ___ ___  _ __ ___| |   _   _ _ __ __  __
  \___ \ / __/ _ \| '__/ _ \ |  | | | | '_ \\ \/ /
   ___) | (_| (_) | | |  __/ |__| |_| | | | |>  <
  |____/ \___\___/|_|  \___|_____\__, |_| |_/_/\_\
                                 |___/
          Website Privacy & Security Scanner v%s
  ______________________________________________________
`
	fmt.Fprintf(os.Stderr, banner, version)
	fmt.Fprintf(os.Stderr, "  Build: %s (%s) | %s/%s\n\n", commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func installConsolidatedHelp(root *cobra.Command) {
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		if !viper.GetBool("quiet") {
			printBanner()
		}

		fmt.Println("USAGE:")
		fmt.Println("  scorelynx [command] [global flags]")
		fmt.Println()
		fmt.Println("GLOBAL FLAGS:")
		root.PersistentFlags().PrintDefaults()
		fmt.Println()

		cmds := []*cobra.Command{}
		for _, c := range root.Commands() {
			if c.IsAvailableCommand() && !c.Hidden {
				cmds = append(cmds, c)
			}
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
		fmt.Println("COMMANDS:")
		for _, c := range cmds {
			fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
		}
		fmt.Println()

		for _, c := range cmds {
			fmt.Printf("%s\n%s\n", c.Name(), strings.Repeat("-", len(c.Name())))
			if c.Long != "" {
				fmt.Println(c.Long)
			} else {
				fmt.Println(c.Short)
			}
			fmt.Printf("\nUsage:\n  %s\n\n", c.UseLine())
			if c.LocalFlags().HasAvailableFlags() {
				fmt.Println("Flags:")
				c.LocalFlags().PrintDefaults()
				fmt.Println()
			}
			for _, sc := range c.Commands() {
				if sc.IsAvailableCommand() && !sc.Hidden {
					fmt.Printf("  %-24s %s\n", c.Name()+" "+sc.Name(), sc.Short)
				}
			}
		}

		fmt.Println()
		fmt.Println("NOTES:")
		fmt.Println("  • Use \"scorelynx [command] --help\" for focused help on any command.")
		fmt.Println("  • Every config key can be set from the environment, e.g. SCORELYNX_SCANNER_QUEUE=redis.")
	})
}

func main() {
	startTime := time.Now()
	Execute()
	logrus.Debugf("Execution completed in %v", time.Since(startTime))
}

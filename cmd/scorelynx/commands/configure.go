package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// ConfigDir is where configuration profiles live.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".scorelynx"), nil
}

func profilePath(profile string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, profile+".yaml"), nil
}

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage ScoreLynx configuration",
		Long: `Manage configuration profiles in ~/.scorelynx. The profile named "config" is
read automatically; others are used with --config.`,
	}
	cmd.PersistentFlags().StringP("profile", "p", "config", "Configuration profile")

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a profile with default values",
		Args:  cobra.NoArgs,
		RunE:  runConfigureInit,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigureShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configuration profiles",
		Args:  cobra.NoArgs,
		RunE:  runConfigureList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a dotted key in a profile, e.g. scanner.cooldown 1h",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigureSet,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print the effective value of a dotted key",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigureGet,
	})
	return cmd
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	profile, _ := cmd.Flags().GetString("profile")
	path, err := profilePath(profile)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		logrus.Warnf("Configuration file already exists: %s", path)
		ok, err := confirmOverwrite()
		if err != nil {
			return err
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	logrus.Infof("Configuration initialized: %s", path)
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Reporting.SigningKey != "" {
		cfg.Reporting.SigningKey = "********"
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "********"
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func runConfigureList(cmd *cobra.Command, args []string) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to list configuration files: %w", err)
	}
	if len(files) == 0 {
		logrus.Info("No configuration profiles found. Run 'scorelynx configure init' to create one.")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Available configuration profiles:")
	for _, file := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "  • %s\n", strings.TrimSuffix(filepath.Base(file), ".yaml"))
	}
	return nil
}

func runConfigureSet(cmd *cobra.Command, args []string) error {
	profile, _ := cmd.Flags().GetString("profile")
	path, err := profilePath(profile)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(args[0])

	doc, err := readYAMLMap(path)
	if err != nil {
		return err
	}
	val := parseValueForKey(key, args[1])
	setNested(doc, strings.Split(key, "."), val)

	// The edited document must still decode into a valid configuration.
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	cfg := models.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	logrus.Infof("Set %s = %v in profile %s", key, val, profile)
	return nil
}

func runConfigureGet(cmd *cobra.Command, args []string) error {
	key := strings.TrimSpace(args[0])
	val := viper.Get(key)
	if val == nil {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		doc := map[string]interface{}{}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		val = lookupNested(doc, strings.Split(key, "."))
	}
	if val == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = <nil>\n", key)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, val)
	return nil
}

func readYAMLMap(path string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc, nil
}

func setNested(dst map[string]interface{}, keys []string, val interface{}) {
	if len(keys) == 0 {
		return
	}
	if len(keys) == 1 {
		dst[keys[0]] = val
		return
	}
	child, ok := dst[keys[0]].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
	}
	setNested(child, keys[1:], val)
	dst[keys[0]] = child
}

func lookupNested(src map[string]interface{}, keys []string) interface{} {
	var cur interface{} = src
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// parseValueForKey turns a command-line value into the YAML type the key
// expects. Comma separated values become lists.
func parseValueForKey(key, s string) interface{} {
	trim := strings.TrimSpace(s)

	if strings.Contains(trim, ",") {
		parts := strings.Split(trim, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	if b, err := strconv.ParseBool(trim); err == nil {
		return b
	}
	if i, err := strconv.Atoi(trim); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trim, 64); err == nil {
		return f
	}

	lower := strings.ToLower(key)
	for _, suffix := range []string{"timeout", "interval", "cooldown", "ceiling", "ttl", "settle_time"} {
		if strings.HasSuffix(lower, suffix) {
			if d, err := time.ParseDuration(trim); err == nil {
				return d.String()
			}
		}
	}
	return trim
}

func confirmOverwrite() (bool, error) {
	fmt.Print("Configuration file already exists. Overwrite? (y/N): ")
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}

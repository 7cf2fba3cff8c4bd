/*
 * === This file is part of orchestra ===
 *
 * Copyright 2025 the orchestra authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cmd contains all the entry points for command line
// subcommands, following library convention.
package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/product"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/ctl/control"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var log = logger.New(logrus.StandardLogger(), product.NAME)

var settingsFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   product.NAME,
	Short: product.PRETTY_FULLNAME,
	Long: fmt.Sprintf(`The %s deploys a set of interdependent services to a sensor node,
starts them in dependency order, supervises their health and restarts them
within a bounded budget.`, product.PRETTY_FULLNAME),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := service.ParsePolicy(viper.GetString("degraded-policy")); err != nil {
			return &configuration.ConfigError{Source: "--degraded-policy", Err: err}
		}
		return nil
	},
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("cannot run command")
		os.Exit(control.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	viper.Set("version", product.VERSION)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsFile, "settings", "", fmt.Sprintf("settings file (default $HOME/.config/%s/settings.yaml)", product.NAME))
	flags.StringP("config", "c", "", "deployment descriptor as a path, file:// or consul://HOST:PORT/KEY URI")
	flags.String("endpoint", configuration.DEFAULT_STATUS_ENDPOINT, "supervisor status endpoint as HOST:PORT")
	flags.Int("max-retries", 0, "pipeline start and verify rounds before the deployment is aborted (default from descriptor, else 2)")
	flags.String("degraded-policy", "", "start gating policy, strict or best-effort (default from descriptor, else strict)")
	flags.String("extra-vars", "", "additional template variables as key=value,... or a JSON object")
	flags.Bool("dry-run", false, "log every command instead of executing it on the target; health expectations pass")
	flags.BoolP("verbose", "v", false, "show verbose output for debug purposes")

	bindFlags(flags, "config", "endpoint", "max-retries", "degraded-policy", "extra-vars", "dry-run", "verbose")
}

func bindFlags(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, fs.Lookup(name)); err != nil {
			log.WithError(err).WithField("flag", name).Warn("cannot bind flag")
		}
	}
}

// initConfig reads in the settings file and ENV variables if set.
func initConfig() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("endpoint", configuration.DEFAULT_STATUS_ENDPOINT)
	viper.SetDefault("verbose", false)

	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.WithError(err).Error("cannot find home directory")
			os.Exit(1)
		}

		// Search config in .config/orchestra directory with name "settings.yaml"
		viper.AddConfigPath(path.Join(home, ".config", product.NAME))
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix(product.ENV_PREFIX)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	logger.Setup(os.Stderr, viper.GetString("log.level"), false)
	if err := viper.ReadInConfig(); err == nil {
		logger.Setup(os.Stderr, viper.GetString("log.level"), false)
		log.WithField("file", viper.ConfigFileUsed()).
			Debug("settings loaded")
	}

	if viper.GetBool("verbose") {
		viper.Set("log.level", "debug")
		logrus.SetLevel(logrus.DebugLevel)
	}
}

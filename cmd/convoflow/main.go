package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/convoflow/cmd/convoflow/cmds"
	"github.com/go-go-golems/convoflow/pkg/settings"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "convoflow",
	Short: "convoflow runs scripted conversations in the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	SilenceUsage: true,
}

func initLogger() {
	s, err := settings.NewFromViper(viper.GetViper())
	cobra.CheckErr(err)
	cobra.CheckErr(settings.InitLogger(s.Log))
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	// Load the variables from the environment
	viper.SetEnvPrefix("convoflow")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.convoflow")
		viper.AddConfigPath("/etc/convoflow")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(xdgConfigPath, "convoflow"))
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}
	err = viper.BindPFlag("openai.api_key", rootCmd.PersistentFlags().Lookup("openai-api-key"))
	if err != nil {
		return err
	}

	// --verbose on the command line is only seen by PersistentPreRun, this
	// picks up the config file and the environment
	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	_ = rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose logging")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key used by complete steps")

	// the config flag has to be parsed before the commands are set up
	configPath := ""
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		}
	}
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")

	err := initCommands(rootCmd, configPath)
	cobra.CheckErr(err)

	rootCmd.AddCommand(cmds.NewRunCommand())
	rootCmd.AddCommand(cmds.NewTranscriptCommand())
	rootCmd.AddCommand(cmds.NewScriptCommand())
}

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go-audio-downloader-bot/internal/api"
	"go-audio-downloader-bot/internal/config"
	"go-audio-downloader-bot/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Environment variables read for secrets.
const (
	envBotToken = "TELEGRAM_BOT_TOKEN"
	envAdminID  = "ADMIN_TELEGRAM_ID"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// dataDirFlag holds the value of the --data-dir flag
var dataDirFlag string

// logLevel and logFormat hold the logging flags
var (
	logLevel  string
	logFormat string
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "audio-downloader-bot",
	Short: "A Telegram bot that searches for media and sends it back as audio",
	Long: `Audio Downloader Bot lets Telegram users search for media by text or link,
pick one of the results and receive it as an audio file. It also provides
operator commands to inspect the download database and library index.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer closeLoggingTransport()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		closeLoggingTransport()
		os.Exit(1)
	}
}

func closeLoggingTransport() {
	loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport)
	if !ok || loggingTransport == nil {
		return
	}
	log.Debug("Closing API logging transport file.")
	if err := loggingTransport.Close(); err != nil {
		log.WithError(err).Error("Error closing API log file")
	}
	globalHttpTransport = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log Bot API requests/responses to api.log in the data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Directory for the database, cache, index and downloads (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Logging level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Logging format (text, json); overrides config")
	rootCmd.PersistentFlags().String("token", "", "Telegram bot token (overrides config and "+envBotToken+")")
	rootCmd.PersistentFlags().Int64("admin-id", 0, "Telegram user ID allowed to use admin commands (overrides config and "+envAdminID+")")

	viper.BindPFlag("bot_token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("admin_id", rootCmd.PersistentFlags().Lookup("admin-id"))
	viper.BindEnv("bot_token", envBotToken)
	viper.BindEnv("admin_id", envAdminID)
}

// initLogging applies the log level and format. Flags win over the config file.
func initLogging(cfg models.Config) {
	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", levelName)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	format := cfg.LogFormat
	if logFormat != "" {
		format = logFormat
	}
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", format)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), format)
}

// loadGlobalConfig loads the configuration, applies env and flag overrides,
// configures logging and sets up the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Commands check the fields they need; a missing file is not fatal here.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
	}

	if cmd.Flags().Changed("data-dir") {
		if dataDirFlag != "" {
			globalConfig = config.WithDataDir(globalConfig, dataDirFlag)
			log.Debugf("Overriding DataDir based on --data-dir flag: %s", dataDirFlag)
		} else {
			log.Warn("--data-dir flag provided but value is empty, ignoring.")
		}
	}

	if token := viper.GetString("bot_token"); token != "" {
		globalConfig.BotToken = token
		log.Debug("Bot token taken from flag or environment")
	}
	if adminID := viper.GetInt64("admin_id"); adminID != 0 {
		globalConfig.AdminID = adminID
		log.Debugf("Overriding AdminID from flag or environment: %d", adminID)
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	initLogging(globalConfig)

	// --- Setup Global HTTP Transport ---
	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if _, statErr := os.Stat(globalConfig.DataDir); statErr == nil {
			logFilePath = filepath.Join(globalConfig.DataDir, logFilePath)
		} else {
			log.Warnf("DataDir '%s' not found, saving api.log to current directory.", globalConfig.DataDir)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath, globalConfig.BotToken)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}

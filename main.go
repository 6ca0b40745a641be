package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marchworks/dealflow/agent"
	"github.com/marchworks/dealflow/analytics"
	"github.com/marchworks/dealflow/config"
	"github.com/marchworks/dealflow/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "dealflow", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().Duration("poll-interval", time.Second, "scheduler due queue poll interval")
	cmd.Flags().Int("batch-size", 100, "scheduler due queue batch size")
	cmd.Flags().Duration("retention", 30*24*time.Hour, "retention of terminal scheduled records")
	cmd.Flags().String("analytics-file", "", "file for node outcome records, empty disables collection")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.SchedulerConfig.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.SchedulerConfig.BatchSize = viper.GetInt("batch-size")
	c.cfg.SchedulerConfig.Retention = viper.GetDuration("retention")
	c.cfg.LogLevel = viper.GetString("log-level")
	if analyticsFile := viper.GetString("analytics-file"); len(analyticsFile) != 0 {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{
			FileName:      analyticsFile,
			CollectorType: analytics.LOG_FILE_DATA_COLLECTOR,
		}
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	level, err := zapcore.ParseLevel(c.cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger.InitLogger(level)

	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "dealflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

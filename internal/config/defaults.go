package config

const (
	defaultConfigPath              = "~/.config/curator/config.toml"
	defaultDataDir                 = "~/.local/share/curator"
	defaultLogDir                  = "~/.local/share/curator/logs"
	defaultAPIBind                 = "127.0.0.1:7610"
	defaultConsumerWorkers         = 1
	defaultMonitorInterval         = 5
	defaultSweepSchedule           = "@every 1m"
	defaultErrorRetryInterval      = 10
	defaultShutdownTimeout         = 30
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultEventsTopic             = "curator.executions"
	defaultEventsWriteTimeout      = 10
	maxConsumerWorkers             = 16
	minimumMonitorIntervalSeconds  = 1
	minimumShutdownTimeoutSeconds  = 1
	minimumErrorRetryIntervalValue = 1
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Scheduler: Scheduler{
			ConsumerWorkers:    defaultConsumerWorkers,
			MonitorInterval:    defaultMonitorInterval,
			SweepSchedule:      defaultSweepSchedule,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ShutdownTimeout:    defaultShutdownTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Events: Events{
			KafkaTopic:   defaultEventsTopic,
			WriteTimeout: defaultEventsWriteTimeout,
		},
	}
}

package config

const (
	defaultStateDir            = "/var/lib/brownout"
	defaultLogDir              = "/var/log/brownout"
	defaultPowerSource         = "gpio"
	defaultGPIOValuePath       = "/sys/class/gpio/gpio17/value"
	defaultUdevSupply          = "AC"
	defaultPollIntervalMS      = 1000
	defaultReadTimeoutMS       = 500
	defaultDebounceWindowMS    = 2000
	defaultStaleAfterMS        = 5000
	defaultShutdownDelay       = 30
	defaultNotifyTimeout       = 10
	defaultSyncTimeout         = 10
	defaultRemountTimeout      = 10
	defaultStopServicesTimeout = 15
	defaultPoweroffTimeout     = 5
	defaultWatchdogDevice      = "/dev/watchdog"
	defaultWatchdogTimeout     = 15
	defaultWatchdogRenew       = 5
	defaultNtfyRequestTimeout  = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Power: Power{
			Source:           defaultPowerSource,
			GPIOValuePath:    defaultGPIOValuePath,
			UdevSupply:       defaultUdevSupply,
			PollIntervalMS:   defaultPollIntervalMS,
			ReadTimeoutMS:    defaultReadTimeoutMS,
			DebounceWindowMS: defaultDebounceWindowMS,
			StaleAfterMS:     defaultStaleAfterMS,
		},
		Shutdown: Shutdown{
			Delay:               defaultShutdownDelay,
			NotifyTimeout:       defaultNotifyTimeout,
			SyncTimeout:         defaultSyncTimeout,
			RemountTimeout:      defaultRemountTimeout,
			StopServicesTimeout: defaultStopServicesTimeout,
			PoweroffTimeout:     defaultPoweroffTimeout,
		},
		Watchdog: Watchdog{
			Enabled:       true,
			Device:        defaultWatchdogDevice,
			Timeout:       defaultWatchdogTimeout,
			RenewInterval: defaultWatchdogRenew,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			PowerEvents:    true,
			Shutdown:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

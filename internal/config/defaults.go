package config

const (
	defaultDataDir             = "~/voxelpipe-data"
	defaultStateDir            = "~/.local/share/voxelpipe"
	defaultLogDir              = "~/.local/share/voxelpipe/logs"
	defaultSidecarExtension    = "vxp"
	defaultSkipPolicy          = "unchanged"
	defaultNumProcesses        = 1
	defaultPollIntervalSeconds = 1
	defaultWorkerPollSeconds   = 1
	defaultLogFormat           = "auto"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Pipeline: Pipeline{
			SidecarExtension:  defaultSidecarExtension,
			DefaultSkipPolicy: defaultSkipPolicy,
			NumProcesses:      defaultNumProcesses,
		},
		Scheduler: Scheduler{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			WorkerPollSeconds:   defaultWorkerPollSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package logger

// Config is the logging configuration for datacorectl and any other
// ambient consumer in this module: a console writer and/or a single
// plain log file, at one minimum level. No rolling/rotation machinery —
// the three cores this module builds (capnp, fuse, funnel) are short-lived
// library calls and CLI subcommands, not a long-running daemon that needs
// log rotation.
type Config struct {
	ConsoleConfig *ConsoleConfig // If nil, the logger will not log to the console
	FileConfig    *FileConfig    // If nil, the logger will not use a log file

	MinLevel string // debug | info | error | fatal
}

type ConsoleConfig struct {
	noColor bool
	asJSON  bool
}

type FileConfig struct {
	Path string
}

var defaultConfig = Config{
	ConsoleConfig: &ConsoleConfig{},
	MinLevel:      "info",
}

// CreateConfig builds a Config from CLI-flag-shaped inputs: an empty
// minLevel falls back to "info", disableTerminal suppresses the console
// writer, and a non-empty logFilePath adds a plain file writer.
func CreateConfig(minLevel string, disableTerminal bool, logFilePath string) *Config {
	var console *ConsoleConfig
	if !disableTerminal {
		console = &ConsoleConfig{}
	}

	var file *FileConfig
	if logFilePath != "" {
		file = &FileConfig{Path: logFilePath}
	}

	if minLevel == "" {
		minLevel = defaultConfig.MinLevel
	}

	return &Config{
		ConsoleConfig: console,
		FileConfig:    file,
		MinLevel:      minLevel,
	}
}

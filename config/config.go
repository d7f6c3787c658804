package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultPort              = 5001
	DefaultReadTimeout       = 5 * time.Minute
	DefaultDataDir           = "Server Database"
	DefaultUserDatabase      = "USER_DATABASE.txt"
	DefaultPortfolioDatabase = "PORTFOLIO_DATABASE.txt"
	DefaultLogLevel          = "info"
)

type Config struct {
	ListenHost        string
	Port              int
	ReadTimeout       time.Duration
	DataDir           string
	UserDatabase      string
	PortfolioDatabase string
	JournalDir        string
	AutoRegister      bool
	// OrdersPerSecond limits orders per session, 0 disables the limit.
	OrdersPerSecond float64
	OrdersBurst     int
	MonitorAddr     string
	LogLevel        string
	// Setup runs the interactive configuration wizard instead of the server.
	Setup      bool
	ConfigPath string
}

type ConfigTmp struct {
	ListenHost        string        `yaml:"listen_host,omitempty"`
	Port              int           `yaml:"port,omitempty"`
	ReadTimeout       time.Duration `yaml:"read_timeout,omitempty"`
	DataDir           string        `yaml:"data_dir,omitempty"`
	UserDatabase      string        `yaml:"user_database,omitempty"`
	PortfolioDatabase string        `yaml:"portfolio_database,omitempty"`
	JournalDir        string        `yaml:"journal_dir,omitempty"`
	AutoRegister      *bool         `yaml:"auto_register,omitempty"`
	OrdersPerSecond   float64       `yaml:"orders_per_second,omitempty"`
	OrdersBurst       int           `yaml:"orders_burst,omitempty"`
	MonitorAddr       string        `yaml:"monitor_addr,omitempty"`
	LogLevel          string        `yaml:"log_level,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		ReadTimeout:       DefaultReadTimeout,
		DataDir:           DefaultDataDir,
		UserDatabase:      DefaultUserDatabase,
		PortfolioDatabase: DefaultPortfolioDatabase,
		AutoRegister:      true,
		LogLevel:          DefaultLogLevel,
	}
}

// Get parses the process command line.
func Get() (Config, error) {
	return Parse(os.Args[1:])
}

// Parse builds a Config from args: a yaml file when --config is given, flags otherwise.
// Environment overrides are applied last.
func Parse(args []string) (Config, error) {
	def := Default()
	fs := flag.NewFlagSet("tradeserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the configuration wizard")
	host := fs.String("host", "", "listen host, empty means all interfaces")
	port := fs.Int("port", def.Port, "listen port")
	readTimeout := fs.Duration("readtimeout", def.ReadTimeout, "idle read timeout per session")
	dataDir := fs.String("datadir", def.DataDir, "directory holding the user and portfolio databases")
	journalDir := fs.String("journaldir", "", "journal directory, defaults to <datadir>/journal")
	autoRegister := fs.Bool("autoregister", def.AutoRegister, "register unknown logins as new accounts")
	ops := fs.Float64("orderspersecond", 0, "per-session order rate limit, 0 disables")
	burst := fs.Int("ordersburst", 1, "per-session order burst")
	monitor := fs.String("monitor", "", "monitor http address, empty disables")
	logLevel := fs.String("loglevel", def.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var (
		c   Config
		err error
	)
	if *configPath != "" {
		c, err = Load(*configPath)
		if err != nil {
			return Config{}, err
		}
		c.ConfigPath = *configPath
	} else {
		c = def
		c.ListenHost = *host
		c.Port = *port
		c.ReadTimeout = *readTimeout
		c.DataDir = *dataDir
		c.JournalDir = *journalDir
		c.AutoRegister = *autoRegister
		c.OrdersPerSecond = *ops
		c.OrdersBurst = *burst
		c.MonitorAddr = *monitor
		c.LogLevel = *logLevel
	}
	c.Setup = *setup

	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	c.fillDefaults()

	if c.Setup {
		return c, nil
	}
	return c, c.Validate()
}

// Load reads a yaml config file on top of Default.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	c := Default()
	if tmp.ListenHost != "" {
		c.ListenHost = tmp.ListenHost
	}
	if tmp.Port != 0 {
		c.Port = tmp.Port
	}
	if tmp.ReadTimeout != 0 {
		c.ReadTimeout = tmp.ReadTimeout
	}
	if tmp.DataDir != "" {
		c.DataDir = tmp.DataDir
	}
	if tmp.UserDatabase != "" {
		c.UserDatabase = tmp.UserDatabase
	}
	if tmp.PortfolioDatabase != "" {
		c.PortfolioDatabase = tmp.PortfolioDatabase
	}
	if tmp.AutoRegister != nil {
		c.AutoRegister = *tmp.AutoRegister
	}
	if tmp.LogLevel != "" {
		c.LogLevel = tmp.LogLevel
	}
	c.JournalDir = tmp.JournalDir
	c.OrdersPerSecond = tmp.OrdersPerSecond
	c.OrdersBurst = tmp.OrdersBurst
	c.MonitorAddr = tmp.MonitorAddr

	return c, nil
}

// Write stores c as yaml at path.
func Write(path string, c Config) error {
	autoRegister := c.AutoRegister
	tmp := ConfigTmp{
		ListenHost:        c.ListenHost,
		Port:              c.Port,
		ReadTimeout:       c.ReadTimeout,
		DataDir:           c.DataDir,
		UserDatabase:      c.UserDatabase,
		PortfolioDatabase: c.PortfolioDatabase,
		JournalDir:        c.JournalDir,
		AutoRegister:      &autoRegister,
		OrdersPerSecond:   c.OrdersPerSecond,
		OrdersBurst:       c.OrdersBurst,
		MonitorAddr:       c.MonitorAddr,
		LogLevel:          c.LogLevel,
	}

	payload, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, payload, 0o644)
}

func applyEnv(c *Config) error {
	if v := os.Getenv("TRADESERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("incorrect TRADESERVER_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("TRADESERVER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TRADESERVER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.JournalDir == "" {
		c.JournalDir = filepath.Join(c.DataDir, "journal")
	}
	if c.OrdersPerSecond > 0 && c.OrdersBurst < 1 {
		c.OrdersBurst = 1
	}
}

// Validate checks ranges and the log level.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout %s", c.ReadTimeout)
	}
	if c.OrdersPerSecond < 0 {
		return fmt.Errorf("invalid orders per second %v", c.OrdersPerSecond)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

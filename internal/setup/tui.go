package setup

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/tradeserver/config"
)

// DefaultConfigFile is where the wizard writes its result.
const DefaultConfigFile = "tradeserver.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and returns the written config path.
func RunTUI(path string) (string, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	def := config.Default()

	var (
		host          string
		portStr       = strconv.Itoa(def.Port)
		readTimeout   = def.ReadTimeout.String()
		dataDir       = def.DataDir
		autoRegister  = def.AutoRegister
		ratePerSecond = "0"
		burstStr      = "1"
		monitorAddr   string
		logLevel      = def.LogLevel
		confirm       bool
	)

	clearScreen()
	fmt.Println(headerStyle.Render("TRADESERVER CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Configure the trading server.\n"))

	fmt.Println(stepStyle.Render("STEP 1: NETWORK"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Host").
				Description("Empty listens on all interfaces").
				Value(&host),
			huh.NewInput().
				Title("Port").
				Value(&portStr).
				Validate(validatePort),
			huh.NewInput().
				Title("Read Timeout").
				Description("Idle sessions are closed after this duration (e.g. 5m)").
				Value(&readTimeout).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("TRADESERVER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: ACCOUNTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Database Directory").
				Description("Holds the user and portfolio databases and the journal").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("directory cannot be empty")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Register unknown logins automatically?").
				Affirmative("Yes").
				Negative("No").
				Value(&autoRegister),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("TRADESERVER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: LIMITS AND MONITORING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Orders per second per session").
				Description("0 disables the limit").
				Value(&ratePerSecond).
				Validate(validateRate),
			huh.NewInput().
				Title("Order burst").
				Value(&burstStr).
				Validate(validateBurst),
			huh.NewInput().
				Title("Monitor Address").
				Description("HTTP address for /stats and /journal/stream, empty disables").
				Value(&monitorAddr),
			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&logLevel),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("TRADESERVER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Listen: %s:%s\nData: %s\nAuto-register: %t\nRate: %s/s burst %s\nMonitor: %s\n",
		host, portStr, dataDir, autoRegister, ratePerSecond, burstStr, monitorAddr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	c, err := buildConfig(host, portStr, readTimeout, dataDir, autoRegister, ratePerSecond, burstStr, monitorAddr, logLevel)
	if err != nil {
		return "", err
	}
	if err := config.Write(path, c); err != nil {
		return "", fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return path, nil
}

func buildConfig(host, portStr, readTimeout, dataDir string, autoRegister bool, ratePerSecond, burstStr, monitorAddr, logLevel string) (config.Config, error) {
	c := config.Default()

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid port: %w", err)
	}
	timeout, err := time.ParseDuration(readTimeout)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid read timeout: %w", err)
	}
	rate, err := strconv.ParseFloat(ratePerSecond, 64)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid rate: %w", err)
	}
	burst, err := strconv.Atoi(burstStr)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid burst: %w", err)
	}

	c.ListenHost = host
	c.Port = port
	c.ReadTimeout = timeout
	c.DataDir = dataDir
	c.AutoRegister = autoRegister
	c.OrdersPerSecond = rate
	c.OrdersBurst = burst
	c.MonitorAddr = monitorAddr
	c.LogLevel = logLevel

	return c, c.Validate()
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateRate(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if v < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateBurst(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

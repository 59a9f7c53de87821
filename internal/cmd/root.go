// Package cmd implements the gobmc command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/internal/config"
	"github.com/3leaps/gobmc/internal/observability"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// Output formats.
const (
	outputJSON  = "json"
	outputJSONL = "jsonl"
)

// AppIdentity names the binary and its config namespace.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

var (
	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}

	appIdentity *AppIdentity

	// runtimeConfig is resolved once per invocation in PersistentPreRunE.
	runtimeConfig *config.Config

	// clientOptions are appended to every transport client. Tests point
	// them at a fake controller.
	clientOptions []transport.Option

	// pollerOptions are appended to every poller.
	pollerOptions []workflow.PollerOption
)

// Persistent flag values.
var (
	cfgFile       string
	hostFlag      string
	portFlag      int
	usernameFlag  string
	passwordFlag  string
	caPathFlag    string
	validateCerts bool
	timeoutFlag   string
	checkModeFlag bool
	logLevelFlag  string
	outputFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "gobmc",
	Short: "Job-oriented state changes for Dell iDRAC and OpenManage Enterprise",
	Long: `gobmc submits state-changing actions to Dell iDRAC (Redfish) and OpenManage
Enterprise, tracks the resulting asynchronous jobs and reports a uniform result.

Every operation supports --check-mode, which reports whether a change would be
made without sending any state-changing request.

Examples:
  gobmc diagnostics run --host 192.168.0.1 --run-mode express
  gobmc storage-controller ResetConfig --controller-id RAID.Integrated.1-1
  gobmc ome export-log --share-address 10.0.0.5 --share-name /exports --share-type NFS
  gobmc task run -f tasks.yaml --check-mode`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	appIdentity = &AppIdentity{
		BinaryName: "gobmc",
		ConfigName: config.AppName,
		EnvPrefix:  config.EnvPrefix + "_",
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/gobmc/config.yaml)")
	pf.StringVar(&hostFlag, "host", "", "Controller address (env GOBMC_HOST)")
	pf.IntVar(&portFlag, "port", 443, "Controller HTTPS port")
	pf.StringVarP(&usernameFlag, "username", "u", "", "Controller user (env GOBMC_USERNAME)")
	pf.StringVarP(&passwordFlag, "password", "p", "", "Controller password (env GOBMC_PASSWORD)")
	pf.StringVar(&caPathFlag, "ca-path", "", "PEM bundle used to verify the controller certificate")
	pf.BoolVar(&validateCerts, "validate-certs", true, "Verify the controller TLS certificate")
	pf.StringVar(&timeoutFlag, "timeout", "30s", "Per-request timeout")
	pf.BoolVar(&checkModeFlag, "check-mode", false, "Report whether changes would be made without making them (env GOBMC_CHECK_MODE)")
	pf.StringVar(&logLevelFlag, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.StringVarP(&outputFlag, "output", "o", outputJSON, "Output format (json|jsonl)")

	bindRootFlags()
}

// bindRootFlags registers defaults and binds the CLI-level keys to their
// flags and environment variables.
func bindRootFlags() {
	pf := rootCmd.PersistentFlags()
	setDefaults()
	_ = viper.BindPFlag("check_mode", pf.Lookup("check-mode"))
	_ = viper.BindPFlag("output", pf.Lookup("output"))
	_ = viper.BindEnv("check_mode", "GOBMC_CHECK_MODE")
	_ = viper.BindEnv("output", "GOBMC_OUTPUT")
}

// setDefaults registers CLI-level defaults. Controller, poll and logging
// defaults live in internal/config.
func setDefaults() {
	viper.SetDefault("check_mode", false)
	viper.SetDefault("output", outputJSON)
	viper.SetDefault("jobs.gc_max_age", "168h")
	viper.SetDefault("task.fail_fast", true)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the application identity, or nil before init.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// IsCheckMode reports whether --check-mode or GOBMC_CHECK_MODE is set.
func IsCheckMode() bool {
	return viper.GetBool("check_mode")
}

func outputFormat() string {
	return strings.ToLower(strings.TrimSpace(viper.GetString("output")))
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	switch outputFormat() {
	case outputJSON, outputJSONL:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("unsupported output format: %s", viper.GetString("output")))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	runtimeConfig = cfg

	name := "gobmc"
	if appIdentity != nil && appIdentity.BinaryName != "" {
		name = appIdentity.BinaryName
	}
	if err := observability.InitCLILoggerLevel(name, cfg.Logging.Level); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("config_file", cfg.ConfigFile),
		zap.String("host", cfg.Controller.Host),
		zap.Int("port", cfg.Controller.Port),
		zap.String("jobs_dir", cfg.Jobs.Dir))
	return nil
}

// flagOverrides maps explicitly set flags onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	o := map[string]any{}
	flags := cmd.Flags()
	set := func(flag, key string, val any) {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			o[key] = val
		}
	}
	set("config", "config", cfgFile)
	set("host", "controller.host", hostFlag)
	set("port", "controller.port", portFlag)
	set("username", "controller.username", usernameFlag)
	set("password", "controller.password", passwordFlag)
	set("ca-path", "controller.ca_path", caPathFlag)
	set("validate-certs", "controller.validate_certs", validateCerts)
	set("timeout", "controller.timeout", timeoutFlag)
	set("log-level", "logging.level", logLevelFlag)
	return o
}

// currentConfig returns the invocation config, loading defaults when a
// command runs without the root pre-run hook.
func currentConfig(ctx context.Context) (*config.Config, error) {
	if runtimeConfig != nil {
		return runtimeConfig, nil
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	runtimeConfig = cfg
	return cfg, nil
}

// newClient builds a transport client for cc.
func newClient(cc config.ControllerConfig) (*transport.HTTPClient, error) {
	if strings.TrimSpace(cc.Host) == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Missing controller host", errors.New("set --host or GOBMC_HOST"))
	}
	ua := "gobmc/" + versionInfo.Version
	client, err := transport.NewHTTPClient(transport.Config{
		Host:          cc.Host,
		Port:          cc.Port,
		Username:      cc.Username,
		Password:      cc.Password,
		ValidateCerts: cc.ValidateCerts,
		CAPath:        cc.CAPath,
		Timeout:       cc.Timeout,
		RateLimit:     cc.RateLimit,
		UserAgent:     ua,
	}, clientOptions...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid controller connection settings", err)
	}
	return client, nil
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err, 1 for other errors and 0
// for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	return 1
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
		_ = logger.Sync()
	}
	os.Exit(code)
}

// exitCodeFor maps an error classification onto a process exit code.
func exitCodeFor(kind workflow.ErrorKind) int {
	switch kind {
	case workflow.KindValidation, workflow.KindInvalidTimeout:
		return foundry.ExitInvalidArgument
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

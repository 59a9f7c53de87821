package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/internal/config"
	"github.com/3leaps/gobmc/internal/observability"
	"github.com/3leaps/gobmc/pkg/preflight"
	"github.com/3leaps/gobmc/pkg/redfish"
)

var (
	doctorController bool
	doctorMode       string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local environment and, optionally, the
configured controller.

Examples:
  gobmc doctor                          # Environment and configuration checks
  gobmc doctor --controller --host 192.168.0.1   # Also check the Redfish service`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorController, "controller", false, "Check that the controller answers Redfish requests")
	doctorCmd.Flags().StringVar(&doctorMode, "mode", string(preflight.ModeReadSafe), "Controller check mode (plan-only|read-safe)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("Running diagnostic checks...")

	allChecks := true
	checkNum := 1
	totalChecks := 5
	if doctorController {
		totalChecks = 6
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ok %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible and gofulmen
	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ok v%s (gofulmen v%s)", checkNum, totalChecks, version.Crucible, version.Gofulmen),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... cannot read version catalog", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Configuration
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... invalid", checkNum, totalChecks), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking configuration... ok %s", checkNum, totalChecks, valueOrDefault(cfg.ConfigFile, "(defaults and environment)")),
		zap.String("host", valueOrDefault(cfg.Controller.Host, "-")),
		zap.String("username", valueOrDefault(cfg.Controller.Username, "-")),
		zap.String("password", maskSecret(cfg.Controller.Password)),
		zap.Bool("validate_certs", cfg.Controller.ValidateCerts))
	if !cfg.Controller.ValidateCerts {
		log.Warn("TLS certificate validation is disabled")
	}
	checkNum++

	// Check 4: Job registry directory
	if err := ensureJobsDir(cfg); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking jobs directory... not writable", checkNum, totalChecks),
			zap.String("jobs_dir", cfg.Jobs.Dir), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking jobs directory... ok %s", checkNum, totalChecks, cfg.Jobs.Dir))
	}
	checkNum++

	// Check 5: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ok %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorController {
		allChecks = runControllerCheck(cmd, cfg, checkNum, totalChecks) && allChecks
	}

	if allChecks {
		log.Info(fmt.Sprintf("All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("Some checks failed. Review the output above for details.")
	}
	log.Info("=== End Diagnostics ===")
	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostic checks failed", fmt.Errorf("%s reported failures", bannerName))
	}
	return nil
}

// runControllerCheck GETs the Redfish service root and writes the preflight
// record to stdout.
func runControllerCheck(cmd *cobra.Command, cfg *config.Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	mode := preflight.Mode(doctorMode)
	switch mode {
	case preflight.ModePlanOnly, preflight.ModeReadSafe:
	default:
		log.Error(fmt.Sprintf("[%d/%d] Checking controller... unsupported --mode %s", checkNum, totalChecks, doctorMode))
		return false
	}
	s, err := newSessionFor(cmd, cfg, cfg.Controller)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking controller... cannot connect", checkNum, totalChecks), zap.Error(err))
		return false
	}
	defer s.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rec, err := preflight.Service(ctx, s.client, redfish.ServiceRoot, preflight.Spec{Mode: mode})
	s.preflightSink(ctx)(rec)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking controller... %s unreachable", checkNum, totalChecks, cfg.Controller.Host), zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking controller... ok %s", checkNum, totalChecks, cfg.Controller.Host))
	return true
}

func ensureJobsDir(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Jobs.Dir, 0o755); err != nil {
		return err
	}
	return preflight.LocalDirectory(cfg.Jobs.Dir)
}

// maskSecret hides all but the last 2 characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return "-"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-2:]
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/orbitalworks/constellation/internal/dispatch"
	"github.com/orbitalworks/constellation/pkg/models"
)

var (
	deviceServerAddr string
	deviceID         string
	deviceFeatures   []string
	deviceShellExec  bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Run a device agent",
	Long: `Run a device agent that connects to a constellation server, registers
this machine's capabilities, and executes assigned tasks one at a time.

By default the agent acknowledges tasks without doing work, which is
useful for exercising a deployment. With --shell the agent runs each
task's request through the system shell and reports the output.

Examples:
  constellation device --server localhost:7420
  constellation device --features gui,shell --shell
  constellation device --id lab-07 --server orchestrator:7420`,
	RunE: runDevice,
}

func init() {
	deviceCmd.Flags().StringVar(&deviceServerAddr, "server", "", "Server address (overrides config)")
	deviceCmd.Flags().StringVar(&deviceID, "id", "", "Device id (defaults to hostname plus a suffix)")
	deviceCmd.Flags().StringSliceVar(&deviceFeatures, "features", nil, "Capabilities to advertise (adds to config)")
	deviceCmd.Flags().BoolVar(&deviceShellExec, "shell", false, "Execute task requests through the system shell")
}

func runDevice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, _ := newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Device.ServerAddr
	if deviceServerAddr != "" {
		addr = deviceServerAddr
	}
	if addr == "" {
		return fmt.Errorf("no server address: set device.server_addr or pass --server")
	}

	info := localDeviceInfo(cfg.Device.Features)
	log.Info("starting device agent",
		"device_id", info.DeviceID,
		"server", addr,
		"features", info.SupportedFeatures)

	client := dispatch.NewClient(dispatch.ClientConfig{
		Addr:           addr,
		ReceiveTimeout: cfg.Device.ReceiveTimeout,
		MaxRetries:     cfg.Device.MaxRetries,
	}, info, newExecutor(), log)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// localDeviceInfo gathers this machine's registration payload.
func localDeviceInfo(configFeatures []string) models.DeviceInfo {
	hostname, _ := os.Hostname()

	id := deviceID
	if id == "" {
		id = hostname + "-" + uuid.NewString()[:8]
	}

	features := append([]string{}, configFeatures...)
	features = append(features, deviceFeatures...)
	if deviceShellExec && !containsFeature(features, "shell") {
		features = append(features, "shell")
	}

	return models.DeviceInfo{
		DeviceID:          id,
		Platform:          runtime.GOOS,
		CPUCount:          runtime.NumCPU(),
		Hostname:          hostname,
		SupportedFeatures: features,
		PlatformType:      models.PlatformComputer,
		SchemaVersion:     "1",
	}
}

func containsFeature(features []string, want string) bool {
	for _, f := range features {
		if f == want {
			return true
		}
	}
	return false
}

// newExecutor picks the task executor for this agent.
func newExecutor() dispatch.Executor {
	if deviceShellExec {
		return dispatch.ExecutorFunc(runShellTask)
	}
	return dispatch.ExecutorFunc(acknowledgeTask)
}

func acknowledgeTask(ctx context.Context, task dispatch.TaskSpec) models.Result {
	return models.Result{
		Status: models.ResultStatusCompleted,
		Result: fmt.Sprintf("acknowledged: %s", task.UserRequest),
	}
}

func runShellTask(ctx context.Context, task dispatch.TaskSpec) models.Result {
	sh := exec.CommandContext(ctx, "sh", "-c", task.UserRequest)
	output, err := sh.CombinedOutput()
	if err != nil {
		return models.Result{
			Status: models.ResultStatusFailed,
			Error:  fmt.Sprintf("%v: %s", err, strings.TrimSpace(string(output))),
		}
	}
	return models.Result{
		Status: models.ResultStatusCompleted,
		Result: strings.TrimSpace(string(output)),
	}
}

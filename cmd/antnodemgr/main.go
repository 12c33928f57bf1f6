// Command antnodemgr is the composition root that wires a platform ServiceController and rpcapi.Client
// into the nodesvc core. Argument parsing, exit codes, and the full command surface are a separate layer
// (an external collaborator) not implemented here; this entry point only demonstrates the wiring and runs
// a single reconcile pass against the registry path given in the environment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/maidsafe/ant-node-manager/internal/log"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/rpcapi"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

func main() {
	log.InitLoggerFromEnv()

	registryPath := os.Getenv("ANTNODEMGR_REGISTRY")
	if registryPath == "" {
		registryPath = "/var/lib/antnodemgr/registry.json"
	}

	ctrl := newController()
	rpc := rpcapi.NewHTTPClient()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, registryPath, ctrl, rpc); err != nil {
		slog.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, registryPath string, ctrl servicecontrol.Controller, rpc rpcapi.Client) error {
	registry, err := nodesvc.Load(registryPath)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	reconciler := nodesvc.NewReconciler(ctrl, rpc)
	if err = reconciler.Refresh(ctx, registry, true, false); err != nil {
		return fmt.Errorf("refresh registry: %w", err)
	}

	if err = registry.Save(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// newController selects the ServiceController implementation for the host platform. Systemd on Linux;
// every other platform defers to servicecontrol.NewPlatformDefault, which resolves at compile time to
// Launchd on macOS or the in-process Subprocess harness everywhere else.
func newController() servicecontrol.Controller {
	switch runtime.GOOS {
	case "linux":
		return servicecontrol.NewSystemd()
	default:
		return servicecontrol.NewPlatformDefault()
	}
}

// Command pooler runs the KALE mining coordinator: block discovery, planting
// notification intake, per-farmer mining+submission scheduling, and the
// Backend-facing HTTP boundary. CLI wiring via urfave/cli/v2 and a
// context+signal.Notify graceful-shutdown shape are carried over from the
// teacher's cmd/geth entrypoint pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/chain"
	"github.com/kale-pool/pooler/chainrpc"
	"github.com/kale-pool/pooler/config"
	"github.com/kale-pool/pooler/coordinator"
	"github.com/kale-pool/pooler/miner"
	"github.com/kale-pool/pooler/monitor"
	"github.com/kale-pool/pooler/notify"
	"github.com/kale-pool/pooler/params"
	"github.com/kale-pool/pooler/relay"
	"github.com/kale-pool/pooler/work"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to an optional TOML config file layered under environment overrides",
}

func main() {
	app := &cli.App{
		Name:  "pooler",
		Usage: "KALE mining pool coordinator",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			statusCommand(),
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("Pooler exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	identity, err := config.Load(cctx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpcClient, err := chainrpc.Dial(ctx, identity.RPCURL)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}
	defer rpcClient.Close()

	reader := chain.NewReader(rpcClient, identity.ContractID)

	runner := miner.NewRunner(identity.FarmerBinPath)

	submitter := relay.NewSubmitter(relay.Config{
		RelayURL:          identity.LaunchtubeURL,
		RelayBearer:       identity.LaunchtubeJWT,
		ContractID:        identity.ContractID,
		NetworkPassphrase: identity.NetworkPassphrase,
		ClientName:        identity.ClientName,
		ClientVersion:     identity.ClientVersion,
	}, rpcClient, nil)

	scheduler := work.New(runner, submitter)

	outbound := notify.NewOutbound(notify.OutboundConfig{
		BackendURL:    identity.BackendAPIURL,
		PoolerID:      identity.PoolerID,
		AuthToken:     identity.AuthToken,
		ClientName:    identity.ClientName,
		ClientVersion: identity.ClientVersion,
		Timeout:       identity.BackendTimeout,
	}, time.Now())

	coord := coordinator.New(ctx, scheduler, outbound, runner)

	mon := monitor.New(reader, outbound, monitor.Config{
		PollInterval:  identity.PollInterval,
		InitialDelay:  identity.InitialCheckDelay,
		MaxErrorCount: identity.MaxErrorCount,
	})

	inbound := notify.NewInbound(coord, identity.AuthToken, mon, identity.MaxErrorCount)
	server := notify.NewServer(fmt.Sprintf(":%d", identity.Port), inbound, coord, runner)
	server.SetDiscoveryHistory(mon)

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start block monitor: %w", err)
	}
	server.Start()

	log.Info("Pooler started", "poolerId", identity.PoolerID, "port", identity.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received; stopping")
	return shutdown(mon, server, coord)
}

func shutdown(mon *monitor.Monitor, server *notify.Server, coord *coordinator.Coordinator) error {
	ctx, cancel := context.WithTimeout(context.Background(), params.ShutdownGracePeriod)
	defer cancel()

	mon.Stop()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("Inbound server shutdown error", "err", err)
	}
	coord.EmergencyStop()

	done := make(chan struct{})
	go func() {
		_ = coord.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Graceful shutdown complete")
	case <-ctx.Done():
		log.Warn("Shutdown grace period elapsed; exiting with tasks still unwinding")
	}
	return nil
}

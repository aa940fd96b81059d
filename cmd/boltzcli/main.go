// Command boltzcli is a thin client against boltzd's ambient gRPC surface.
// Adapted from lnd's lncli: the dial/connection plumbing
// follows the same shape, narrowed to the health-check surface boltzd
// actually exposes -- the swap-specific commands below are stubs, since the
// business RPC surface they'd call is this system's own declared
// out-of-scope boundary.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[boltzcli] %v\n", err)
	os.Exit(1)
}

func getConn(ctx *cli.Context) *grpc.ClientConn {
	conn, err := grpc.Dial(
		ctx.GlobalString("rpcserver"),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fatal(err)
	}
	return conn
}

func main() {
	app := cli.NewApp()
	app.Name = "boltzcli"
	app.Usage = "control plane for boltzd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:9000",
			Usage: "host:port of boltzd",
		},
	}
	app.Commands = []cli.Command{
		statusCommand,
		swapStubCommand("swap", "create a submarine swap"),
		swapStubCommand("reverseswap", "create a reverse submarine swap"),
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "check whether boltzd is reachable and serving",
	Action: func(ctx *cli.Context) error {
		conn := getConn(ctx)
		defer conn.Close()

		client := healthpb.NewHealthClient(conn)

		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		resp, err := client.Check(reqCtx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("checking boltzd status: %w", err)
		}

		fmt.Println(resp.Status)
		return nil
	},
}

// swapStubCommand returns a command that explains why it has nothing to do
// yet: boltzd's business RPC surface (the actual CreateSwap/
// CreateReverseSwap calls) isn't part of this system's scope, which
// specifies the nursery's Go API, not a wire surface in front of it.
func swapStubCommand(name, usage string) cli.Command {
	return cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx *cli.Context) error {
			return fmt.Errorf("%s: boltzd exposes no swap RPC surface; drive the nursery package directly", name)
		},
	}
}

// Copyright 2024 The Fred Authors
// This file is part of Fred.
//
// Fred is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Fred is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Fred. If not, see <http://www.gnu.org/licenses/>.

// Command fred-node hosts the opennet announcement engine and its
// tempbucket pool as a standalone process: it owns configuration, logging
// and the pool's lifetime, but the transport, peer set and noderef
// verifier remain the caller's responsibility (spec "Out of scope").
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/Pascal666/fred/log"
	"github.com/Pascal666/fred/opennetcfg"
	"github.com/Pascal666/fred/tempbucket"
)

const clientIdentifier = "fred-node"

var gitCommit = "" // set via -ldflags at build time

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file for opennet/tempbucket tuning",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for tempbucket file-backed buffers",
		Value: "./fred-data",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log verbosity: trace|debug|info|warn|error",
		Value: "info",
	}
	metricsFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "Log the in-process metrics counters at startup (always collected; no exporter wired)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Usage = "opennet announcement engine node"
	app.Version = versionString()
	app.Flags = []cli.Flag{configFileFlag, dataDirFlag, verbosityFlag, metricsFlag}
	app.Action = run
	app.Commands = []cli.Command{
		dumpConfigCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionString() string {
	if gitCommit != "" {
		return fmt.Sprintf("dev-%s", gitCommit[:8])
	}
	return "dev"
}

// run starts the tempbucket pool under the loaded configuration and blocks
// until an interrupt is received. It does not itself speak the wire
// protocol: that requires a Transport/PeerSet/Validator supplied by an
// embedding program via opennet.Deps.
func run(ctx *cli.Context) error {
	log.SetLevel(ctx.GlobalString(verbosityFlag.Name))

	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("fred-node: %w", err)
	}

	if ctx.GlobalBool(metricsFlag.Name) {
		log.Info("metrics registry active", "counters", "fred/tempbucket/migrations/*")
	}

	dataDir := ctx.GlobalString(dataDirFlag.Name)
	pool, err := tempbucket.NewPool(cfg, dataDir)
	if err != nil {
		return fmt.Errorf("fred-node: creating tempbucket pool: %w", err)
	}
	defer pool.Close()

	log.Info("fred-node started", "datadir", dataDir, "maxHTL", cfg.MaxHTL, "maxRAMUsed", cfg.MaxRAMUsed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("fred-node shutting down", "bytesInUse", pool.BytesInUse())
	return nil
}

func loadConfig(ctx *cli.Context) (*opennetcfg.Config, error) {
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		return opennetcfg.LoadFile(file)
	}
	return opennetcfg.Default(), nil
}

// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bfix/gospel/logger"

	"github.com/wisdark/vpncloud/cloud"
	"github.com/wisdark/vpncloud/config"
	"github.com/wisdark/vpncloud/cryptosession"
	"github.com/wisdark/vpncloud/device"
	"github.com/wisdark/vpncloud/privilege"
	"github.com/wisdark/vpncloud/stats"
	"github.com/wisdark/vpncloud/util"
)

// version is printed by --version; bumped by hand per release.
const version = "3.0.0"

func main() {
	defer func() {
		logger.Println(logger.INFO, "[vpncloud] Bye.")
		logger.Flush()
	}()

	fs := flag.NewFlagSet("vpncloud", flag.ExitOnError)
	args, err := config.ParseArgs(fs, os.Args[1:])
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] invalid arguments: %s\n", err.Error())
		os.Exit(1)
	}

	if args.Version {
		fmt.Println("vpncloud " + version)
		return
	}
	if args.Genkey {
		runGenkey()
		return
	}
	if args.MigrateConfig {
		if err := runMigrateConfig(args.ConfigFile); err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] migrate-config failed: %s\n", err.Error())
			os.Exit(1)
		}
		return
	}

	logLevel := logger.INFO
	if args.Verbose {
		logLevel = logger.DBG
	}
	if args.Quiet {
		logLevel = logger.WARN
	}
	logger.SetLogLevel(logLevel)
	logger.Println(logger.INFO, "[vpncloud] Starting service...")

	cfg := config.Default()
	if args.ConfigFile != "" {
		cf, err := config.LoadFile(args.ConfigFile)
		if err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] invalid configuration file: %s\n", err.Error())
			os.Exit(1)
		}
		cfg.MergeFile(cf)
	}
	cfg.MergeArgs(args)
	cfg.LogSummary()

	if cfg.Daemonize {
		if err := privilege.Daemonize(); err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] daemonize failed: %s\n", err.Error())
			os.Exit(1)
		}
	}
	if err := privilege.WritePIDFile(cfg.PidFile); err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] failed to write pid file: %s\n", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := privilege.RemovePIDFile(cfg.PidFile); err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] failed to remove pid file: %s\n", err.Error())
		}
	}()

	dev, err := device.Open(cfg.Device.Name, device.Type(cfg.Device.Type), cfg.Device.Path)
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] failed to open device: %s\n", err.Error())
		os.Exit(1)
	}
	defer dev.Close()
	logger.Printf(logger.INFO, "[vpncloud] opened device %s\n", dev.Name())

	if cfg.Device.FixRPFilter {
		if err := device.SetRPFilter(dev.Name(), 2); err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] failed to fix rp_filter: %s\n", err.Error())
		}
	}

	listenAddr, err := config.ParseListen(cfg.Listen)
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] invalid listen address: %s\n", err.Error())
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] failed to bind %s: %s\n", listenAddr, err.Error())
		os.Exit(1)
	}
	defer conn.Close()
	logger.Printf(logger.INFO, "[vpncloud] listening on %s\n", conn.LocalAddr())

	st, err := stats.New(cfg.StatsFile, cfg.Statsd.Server, cfg.Statsd.Prefix)
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] failed to set up stats: %s\n", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	if cfg.User != "" || cfg.Group != "" {
		if err := privilege.Drop(cfg.User, cfg.Group); err != nil {
			logger.Printf(logger.ERROR, "[vpncloud] failed to drop privileges: %s\n", err.Error())
			os.Exit(1)
		}
		logger.Printf(logger.INFO, "[vpncloud] dropped privileges to user=%q group=%q\n", cfg.User, cfg.Group)
	}

	cl, err := cloud.New(cfg, dev, conn, st, util.SystemTimeSource{})
	if err != nil {
		logger.Printf(logger.ERROR, "[vpncloud] failed to initialize: %s\n", err.Error())
		os.Exit(1)
	}
	cl.Start()

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh)

	runErr := make(chan error, 1)
	go func() {
		runErr <- cl.Run(ctx)
	}()

	tick := time.NewTicker(5 * time.Minute)
	defer tick.Stop()

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Printf(logger.INFO, "[vpncloud] terminating service (on signal '%s')\n", sig)
				break loop
			case syscall.SIGHUP:
				logger.Println(logger.INFO, "[vpncloud] SIGHUP")
			default:
				logger.Println(logger.INFO, "[vpncloud] unhandled signal: "+sig.String())
			}
		case err := <-runErr:
			if err != nil {
				logger.Printf(logger.ERROR, "[vpncloud] service stopped: %s\n", err.Error())
			}
			break loop
		case now := <-tick.C:
			logger.Println(logger.INFO, "[vpncloud] heart beat at "+now.String())
		}
	}

	cancel()
}

// runGenkey generates a fresh X25519 key pair and prints it hex-encoded,
// mirroring the teacher's vanityid tool's direct-to-stdout key dump.
func runGenkey() {
	kp, err := cryptosession.NewEphemeralKeyPair()
	if err != nil {
		fmt.Println("key generation failed:", err)
		os.Exit(1)
	}
	fmt.Println("private:", hex.EncodeToString(kp.Private[:]))
	fmt.Println("public: ", hex.EncodeToString(kp.Public[:]))
}

// runMigrateConfig rewrites a legacy config file, dropping the removed
// `network_id` top-level key in favor of `magic` (spec.md §9).
func runMigrateConfig(path string) error {
	if path == "" {
		return fmt.Errorf("vpncloud: --migrate-config requires --config")
	}
	return config.MigrateLegacyFile(path)
}

// Command vmdebug bootstraps a vmsys.VmSystem the same way vmctl run
// does and exposes its live fault/coremap/swap counters over
// internal/diag's HTTP/3 endpoint, for an operator who wants to watch
// a long-running system rather than a one-shot scenario report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/cli"
	"github.com/smukherj1/os161/internal/diag"
	"github.com/smukherj1/os161/internal/klog"
	"github.com/smukherj1/os161/internal/vmsys"
)

var log = klog.WithComponent(klog.Default, "vmdebug")

type fileConfig struct {
	TotalFrames int    `json:"total_frames"`
	SwapDevice  string `json:"swap_device"`
	SwapSlots   int    `json:"swap_slots"`
}

func defaultConfig() fileConfig {
	return fileConfig{TotalFrames: 64, SwapSlots: 1280}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("vmdebug: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("vmdebug: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		cli.PrintVersion("vmdebug", len(os.Args) > 2 && os.Args[2] == "--json")
		return
	}

	fs := flag.NewFlagSet("vmdebug", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON config file (same shape as vmctl's)")
	frames := fs.Int("frames", 0, "override total_frames from the config file")
	swapPath := fs.String("swap-file", "", "path to a swap backing file (in-memory device used if empty)")
	listen := fs.String("listen", "127.0.0.1:0", "UDP address the HTTP/3 stats endpoint listens on")
	_ = fs.Parse(os.Args[1:])

	fcfg, err := loadConfig(*configPath)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if *frames > 0 {
		fcfg.TotalFrames = *frames
	}
	if *swapPath != "" {
		fcfg.SwapDevice = *swapPath
	}

	var device blockdev.Device
	if fcfg.SwapDevice == "" {
		device = blockdev.NewMemDevice()
	} else {
		fd, err := blockdev.OpenFile(fcfg.SwapDevice, fcfg.SwapSlots)
		if err != nil {
			cli.ExitWithError("vmdebug: %v", err)
		}
		device = fd
	}
	defer device.Close()

	sys, err := vmsys.Bootstrap(vmsys.Config{TotalFrames: fcfg.TotalFrames, SwapDevice: device})
	if err != nil {
		cli.ExitWithError("vmdebug: %v", err)
	}
	handler := sys.NewHandler(nil)

	tlsCfg, err := diag.SelfSignedTLS([]string{"127.0.0.1", "::1"}, 24*time.Hour)
	if err != nil {
		cli.ExitWithError("vmdebug: generating TLS config: %v", err)
	}

	srv := diag.New(*listen, tlsCfg, handler)
	addr, err := srv.Start()
	if err != nil {
		cli.ExitWithError("vmdebug: starting diagnostics server: %v", err)
	}
	log.Info().Str("addr", addr).Int("total_frames", fcfg.TotalFrames).Msg("vmdebug listening")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigC:
		log.Info().Msg("shutting down on signal")
	case err := <-srv.Error():
		log.Error().Err(err).Msg("diagnostics server stopped")
	}
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping diagnostics server")
	}
}

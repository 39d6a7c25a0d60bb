// Command vmctl is the operator-facing driver for the VM core: it
// bootstraps a vmsys.VmSystem from a JSON config (with flag
// overrides), runs the spec's canonical end-to-end scenarios against
// it, and can watch its config file for live reload. Flag parsing and
// usage text follow cmd/orizon's flag.NewFlagSet-per-subcommand shape.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"

	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/cli"
	"github.com/smukherj1/os161/internal/klog"
	"github.com/smukherj1/os161/internal/vmsys"
)

var log = klog.WithComponent(klog.Default, "vmctl")

// FileConfig is the on-disk JSON shape vmctl loads and hot-reloads;
// total_frames, swap_device and min_abi_version can be overridden by
// run's -frames, -swap-file and -abi flags. swap_slots has no flag.
type FileConfig struct {
	TotalFrames  int    `json:"total_frames"`
	SwapDevice   string `json:"swap_device"`
	SwapSlots    int    `json:"swap_slots"`
	MinABIVersion string `json:"min_abi_version"`
}

func defaultConfig() FileConfig {
	return FileConfig{TotalFrames: 64, SwapDevice: "", SwapSlots: 1280, MinABIVersion: "1.0.0"}
}

func loadFileConfig(path string) (FileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("vmctl: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("vmctl: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		printTopUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	case "version", "--version", "-v":
		cli.PrintVersion("vmctl", len(os.Args) > 2 && os.Args[2] == "--json")
	default:
		printTopUsage()
		os.Exit(2)
	}
}

func printTopUsage() {
	cli.PrintUsage("vmctl", []cli.CommandInfo{
		{Name: "run", Description: "bootstrap a VM system and run the canonical scenarios"},
		{Name: "watch", Description: "watch a config file and re-validate it on every change"},
		{Name: "version", Description: "print version information"},
	})
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON config file")
	frames := fs.Int("frames", 0, "override total_frames from the config file")
	swapPath := fs.String("swap-file", "", "path to a swap backing file (in-memory device used if empty)")
	abi := fs.String("abi", "", "override min_abi_version from the config file")
	_ = fs.Parse(args)

	fcfg, err := loadFileConfig(*configPath)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if *frames > 0 {
		fcfg.TotalFrames = *frames
	}
	if *swapPath != "" {
		fcfg.SwapDevice = *swapPath
	}
	if *abi != "" {
		fcfg.MinABIVersion = *abi
	}

	if err := checkABI(fcfg.MinABIVersion); err != nil {
		cli.ExitWithError("%v", err)
	}

	sys, device, err := bootstrapFromConfig(fcfg)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	defer device.Close()

	log.Info().Int("total_frames", fcfg.TotalFrames).Msg("VM system bootstrapped")

	results, err := RunScenarios(sys)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	for _, r := range results {
		status := "PASS"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Printf("%-6s %-40s %s\n", status, r.Name, r.Detail)
	}
	for _, r := range results {
		if !r.OK {
			os.Exit(1)
		}
	}
}

func bootstrapFromConfig(fcfg FileConfig) (*vmsys.VmSystem, blockdev.Device, error) {
	var device blockdev.Device
	if fcfg.SwapDevice == "" {
		device = blockdev.NewMemDevice()
	} else {
		fd, err := blockdev.OpenFile(fcfg.SwapDevice, fcfg.SwapSlots)
		if err != nil {
			return nil, nil, err
		}
		device = fd
	}

	sys, err := vmsys.Bootstrap(vmsys.Config{TotalFrames: fcfg.TotalFrames, SwapDevice: device})
	if err != nil {
		return nil, nil, err
	}
	return sys, device, nil
}

// checkABI rejects configs whose min_abi_version is newer than the ELF
// ABI version this build implements, exercised via Masterminds/semver the same way
// cmd/orizon's "outdated"/"install" commands parse version
// constraints.
func checkABI(min string) error {
	if min == "" {
		return nil
	}
	built, err := semver.NewVersion(builtABIVersion)
	if err != nil {
		return fmt.Errorf("vmctl: internal: bad built-in ABI version %q: %w", builtABIVersion, err)
	}
	constraint, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return fmt.Errorf("vmctl: invalid min_abi_version %q: %w", min, err)
	}
	if !constraint.Check(built) {
		return fmt.Errorf("vmctl: built-in ELF ABI version %s does not satisfy required >= %s", built, min)
	}
	return nil
}

// builtABIVersion is the ELF ABI contract this build of the VM core
// implements (spec.md §5's 32-bit ET_EXEC/PT_LOAD contract).
const builtABIVersion = "1.2.0"

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the JSON config file to watch")
	_ = fs.Parse(args)

	if *configPath == "" {
		cli.ExitWithError("watch requires --config")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cli.ExitWithError("vmctl: watch: %v", err)
	}
	defer w.Close()

	if err := w.Add(*configPath); err != nil {
		cli.ExitWithError("vmctl: watch: %v", err)
	}
	log.Info().Str("path", *configPath).Msg("watching config for changes")

	last, _ := os.ReadFile(*configPath)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(*configPath)
			if err != nil {
				log.Error().Err(err).Msg("failed to reread config")
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			last = data
			fcfg, err := loadFileConfig(*configPath)
			if err != nil {
				log.Error().Err(err).Msg("reloaded config is invalid")
				continue
			}
			if err := checkABI(fcfg.MinABIVersion); err != nil {
				log.Error().Err(err).Msg("reloaded config failed ABI check")
				continue
			}
			log.Info().Int("total_frames", fcfg.TotalFrames).Msg("config reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watch error")
		}
	}
}

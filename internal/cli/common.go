// Package cli provides the small scaffolding vmctl and vmdebug share:
// version reporting and top-level usage text. Everything else the
// teacher's own internal/cli carries (a parallel Logger, file-backed
// Config, flag-description helpers) has no caller in this tree — the
// VM core logs through internal/klog's zerolog wrapper instead, and
// both binaries parse their own flag.FlagSet directly — so it is not
// reproduced here.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

// Version identifies this build of the VM tools.
const (
	Version   = "0.1.0"
	BuildDate = "2026-07-31"
	CommitSHA = "unknown"
)

// VersionInfo is the structured form PrintVersion reports, either as
// plain text or as JSON for scripting.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// GetVersionInfo snapshots the build and runtime identity.
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion writes toolName's version, as JSON if jsonOutput is set
// and text otherwise.
func PrintVersion(toolName string, jsonOutput bool) {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]any{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Println(string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "cli: failed to marshal version info: %v\n", err)
	}

	fmt.Printf("%s v%s\n", toolName, info.Version)
	fmt.Printf("Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Printf("Commit: %s\n", info.CommitSHA)
	}
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s/%s\n", info.Platform, info.Arch)
}

// ExitWithError prints a formatted error to stderr and exits 1, the
// way every flag-validation and bootstrap failure in cmd/vmctl and
// cmd/vmdebug terminates the process.
func ExitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// CommandInfo names one top-level subcommand for PrintUsage.
type CommandInfo struct {
	Name        string
	Description string
}

// PrintUsage prints the top-level "<tool> <command>" banner cmd/vmctl
// shows when invoked with no subcommand or an unknown one.
func PrintUsage(tool string, commands []CommandInfo) {
	fmt.Printf("%s - os161 VM core tools\n\n", tool)
	fmt.Printf("USAGE:\n")
	fmt.Printf("    %s <command> [OPTIONS]\n\n", tool)

	if len(commands) > 0 {
		fmt.Printf("COMMANDS:\n")
		for _, cmd := range commands {
			fmt.Printf("    %-12s %s\n", cmd.Name, cmd.Description)
		}
		fmt.Printf("\n")
	}

	fmt.Printf("GLOBAL OPTIONS:\n")
	fmt.Printf("    --help, -h     Show help information\n")
	fmt.Printf("    --version, -v  Show version information\n")
	fmt.Printf("    --json         Output version in JSON format\n")
}

package cmd

import (
	"encoding/json"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/extractor"
)

var (
	versionShort bool
	versionJSON  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Print the goextract build, the extraction engine version that goes into
run fingerprints, and the Go toolchain the binary was built with.`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")
	rootCmd.AddCommand(versionCmd)
}

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Engine  string `json:"engine"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// currentBuild falls back to the VCS revision stamped by the Go toolchain
// when no commit was injected through ldflags.
func currentBuild() buildInfo {
	commit := Commit
	if commit == "" || commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return buildInfo{
		Version: Version,
		Commit:  commit,
		Engine:  extractor.EngineVersion,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	b := currentBuild()
	switch {
	case versionShort:
		cmd.Println(b.Version)
	case versionJSON:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	default:
		cmd.Printf("goextract version %s\n", b.Version)
		cmd.Printf("  Commit: %s\n", b.Commit)
		cmd.Printf("  Engine: %s\n", b.Engine)
		cmd.Printf("  Go version: %s\n", b.Go)
		cmd.Printf("  OS/Arch: %s/%s\n", b.OS, b.Arch)
	}
	return nil
}

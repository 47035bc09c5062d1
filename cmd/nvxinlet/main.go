// Command nvxinlet acquires samples from NVX amplifiers (or an emulated one)
// and publishes, records and counts them.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/nvxinlet"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

func setBuildInfo() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	nvxinlet.Build.Date = buildDate
	nvxinlet.Build.Githash = githash
	nvxinlet.Build.Gitdate = gitdate
	nvxinlet.Build.Summary = fmt.Sprintf("nvxinlet version %s (git commit %s of %s)", nvxinlet.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		nvxinlet.Build.Host = host
	} else {
		nvxinlet.Build.Host = "host not detected"
	}
}

func rootCommand(v *viper.Viper) *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "nvxinlet",
		Short:         "Acquire data from NVX bioelectric amplifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "directory holding config.yaml and logs (default ~/.nvxinlet)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if dir == "" {
			var err error
			if dir, err = dotDir(); err != nil {
				return err
			}
		}
		problems, updates, err := startLogging(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Logging problems to %s\nLogging updates  to %s\n", problems, updates)
		nvxinlet.UpdateLogger.Printf("\n\n%s", nvxinlet.Build.Summary)
		return setupViper(v, dir)
	}
	root.AddCommand(acquireCommand(v), devicesCommand(v), showCommand(), versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and quit",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "This is nvxinlet version %s\n", nvxinlet.Build.Version)
			fmt.Fprintf(out, "Git commit hash: %s\n", githash)
			fmt.Fprintf(out, "Build time: %s\n", buildDate)
			fmt.Fprintf(out, "Built on go version %s\n", runtime.Version())
			fmt.Fprintf(out, "Running on %d CPUs.\n", runtime.NumCPU())
		},
	}
}

func main() {
	setBuildInfo()
	if err := rootCommand(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

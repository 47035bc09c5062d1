package main

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/internal/rundb"
	"github.com/usnistgov/nvxinlet/nvx"
)

func devicesCommand(v *viper.Viper) *cobra.Command {
	var pingDB bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the attached amplifiers and their properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := nvxinlet.LoadConfig(v)
			if err != nil {
				return err
			}
			driver, err := config.NewDriver(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := listDevices(driver, out); err != nil {
				return err
			}
			if pingDB {
				version, err := rundb.PingServer(rundb.Config{
					Addr:     v.GetStringSlice(keyDBAddr),
					Database: v.GetString(keyDBName),
					Timeout:  v.GetDuration(keyDBTimeout),
				})
				if err != nil {
					return fmt.Errorf("run database: %w", err)
				}
				fmt.Fprintf(out, "ClickHouse server is alive. Version:\n%s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pingDB, "ping-db", false, "also check that the run database answers")
	cmd.Flags().Bool("emulate", false, "use the emulated amplifier")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(v, cmd.Flags(), map[string]string{
			nvxinlet.ConfigKey + ".emulation": "emulate",
		})
	}
	return cmd
}

// listDevices opens each device of driver in turn and dumps what it reports.
func listDevices(driver nvx.Driver, out io.Writer) error {
	n := driver.Count()
	fmt.Fprintf(out, "%d device(s) found\n", n)
	dumper := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
	for i := 0; i < n; i++ {
		dev, err := driver.Open(i)
		if err != nil {
			return fmt.Errorf("opening device %d: %w", i, err)
		}
		props, err := dev.Properties()
		if err != nil {
			dev.Close()
			return fmt.Errorf("device %d properties: %w", i, err)
		}
		settings, err := dev.Settings()
		if err != nil {
			dev.Close()
			return fmt.Errorf("device %d settings: %w", i, err)
		}
		version, err := dev.Version()
		if err != nil {
			dev.Close()
			return fmt.Errorf("device %d version: %w", i, err)
		}
		fmt.Fprintf(out, "\nDevice %d: %v\n", i, nvxinlet.LayoutFromProperty(props))
		dumper.Fdump(out, props, settings, version)
		if err := dev.Close(); err != nil {
			return fmt.Errorf("closing device %d: %w", i, err)
		}
	}
	return nil
}

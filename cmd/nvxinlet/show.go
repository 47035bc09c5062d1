package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/recorder"
)

func showCommand() *cobra.Command {
	var layout nvxinlet.Layout
	cmd := &cobra.Command{
		Use:   "show FILE.npy",
		Short: "Summarize each channel of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRecording(args[0], layout, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&layout.EEGCount, "eeg", 32, "number of EEG channels in the recording")
	cmd.Flags().IntVar(&layout.AuxCount, "aux", 8, "number of AUX channels in the recording")
	return cmd
}

func showRecording(path string, layout nvxinlet.Layout, out io.Writer) error {
	m, err := recorder.ReadFile(path)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintf(out, "%s holds no samples\n", path)
		return nil
	}
	summary, err := recorder.Summarize(m, layout)
	if err != nil {
		return err
	}
	rows, _ := m.Dims()
	fmt.Fprintf(out, "%s: %d samples of %v\n", path, rows, layout)
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "channel\tmean\tstd dev\tmin\tmax\t")
	for _, c := range summary {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.0f\t%.0f\t\n", c.Name, c.Mean, c.StdDev, c.Min, c.Max)
	}
	return tw.Flush()
}

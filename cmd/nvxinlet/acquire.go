package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/internal/rundb"
	"github.com/usnistgov/nvxinlet/publish"
	"github.com/usnistgov/nvxinlet/recorder"
)

type acquireOptions struct {
	duration time.Duration
	record   string
}

func acquireCommand(v *viper.Viper) *cobra.Command {
	var opt acquireOptions
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire from one amplifier until interrupted",
		Long: `Acquire samples from one amplifier, thinned to the target rate, and hand each
pulled chunk to the configured outputs: a ZMQ publisher, a .npy recording and
the run database. Stops on interrupt, after --duration, or on a hardware fault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return acquire(ctx, v, opt, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&opt.duration, "duration", 0, "stop after this long (0 means run until interrupted)")
	flags.StringVarP(&opt.record, "output", "o", "", "record to this .npy file")
	flags.Int("device", 0, "device index")
	flags.Uint32("rate", 0, "target sample rate in Hz")
	flags.Bool("emulate", false, "use the emulated amplifier")
	flags.String("publish", "", "ZMQ endpoint to publish chunks on, like tcp://*:5510")
	flags.String("metrics", "", "address to serve Prometheus /metrics on, like :9101")
	flags.Duration("pull", 0, "interval between chunk pulls")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(v, cmd.Flags(), map[string]string{
			nvxinlet.ConfigKey + ".deviceindex": "device",
			nvxinlet.ConfigKey + ".targetrate":  "rate",
			nvxinlet.ConfigKey + ".emulation":   "emulate",
			keyPublish:                          "publish",
			keyMetrics:                          "metrics",
			keyPullInterval:                     "pull",
		})
	}
	return cmd
}

// outputs fans pulled chunks out to every configured destination.
type outputs struct {
	index     int
	layout    nvxinlet.Layout
	publisher *publish.Publisher
	recorder  *recorder.Recorder
	samples   int
	chunks    int
}

func (o *outputs) deliver(chunk nvxinlet.Chunk) {
	if chunk.Len() == 0 {
		return
	}
	o.chunks++
	o.samples += chunk.Len()
	if o.publisher != nil {
		if err := o.publisher.Publish(o.index, o.layout, chunk); err != nil {
			nvxinlet.ProblemLogger.Printf("publishing chunk: %v", err)
		}
	}
	if o.recorder != nil {
		if err := o.recorder.Write(chunk); err != nil {
			nvxinlet.ProblemLogger.Printf("recording chunk: %v", err)
		}
	}
}

func (o *outputs) close() error {
	var errs []error
	if o.publisher != nil {
		errs = append(errs, o.publisher.Close())
	}
	if o.recorder != nil {
		errs = append(errs, o.recorder.Close())
	}
	return errors.Join(errs...)
}

// serveMetrics serves registry on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      nvxinlet.ProblemLogger,
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nvxinlet.ProblemLogger.Printf("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	return ln.Addr().String(), nil
}

func acquire(ctx context.Context, v *viper.Viper, opt acquireOptions, out io.Writer) error {
	config, err := nvxinlet.LoadConfig(v)
	if err != nil {
		return err
	}
	pullInterval := v.GetDuration(keyPullInterval)
	if pullInterval <= 0 {
		return fmt.Errorf("pull interval %v must be positive: %w", pullInterval, nvxinlet.ErrConfiguration)
	}
	driver, err := config.NewDriver(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opt.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opt.duration)
		defer cancel()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics, err := nvxinlet.NewMetrics(registry)
	if err != nil {
		return err
	}
	if addr := v.GetString(keyMetrics); addr != "" {
		bound, err := serveMetrics(ctx, addr, registry)
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", bound)
	}

	abortDB := make(chan struct{})
	db := rundb.Dummy()
	if addrs := v.GetStringSlice(keyDBAddr); len(addrs) > 0 {
		db = rundb.Start(rundb.Config{
			Addr:     addrs,
			Database: v.GetString(keyDBName),
			Timeout:  v.GetDuration(keyDBTimeout),
		}, rundb.NewActivity(), abortDB)
	}
	defer func() {
		close(abortDB)
		db.Wait()
	}()

	inlet, err := nvxinlet.Open(driver, config, nvxinlet.WithMetrics(metrics), nvxinlet.WithRunObserver(db))
	if err != nil {
		return err
	}
	defer inlet.Close()

	o := &outputs{index: inlet.DeviceIndex(), layout: inlet.Layout()}
	defer func() {
		if err := o.close(); err != nil {
			nvxinlet.ProblemLogger.Printf("closing outputs: %v", err)
		}
	}()
	if endpoint := v.GetString(keyPublish); endpoint != "" {
		if o.publisher, err = publish.NewPublisher(endpoint); err != nil {
			return err
		}
		fmt.Fprintf(out, "Publishing on %s, topic %q\n", o.publisher.Endpoint(), publish.Topic(o.index))
	}
	if opt.record != "" {
		if o.recorder, err = recorder.Create(opt.record, o.layout); err != nil {
			return err
		}
		fmt.Fprintf(out, "Recording to %s\n", o.recorder.Name())
	}

	if err := inlet.Start(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Acquiring %v from device %d at %d Hz (source %d Hz)\n",
		o.layout, o.index, inlet.TargetRate(), inlet.SourceRate())

	ticker := time.NewTicker(pullInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			o.deliver(inlet.PullChunk())
			if !inlet.Running() {
				break loop
			}
		}
	}

	stopErr := inlet.Stop()
	o.deliver(inlet.PullChunk())
	stats := inlet.Stats()
	fmt.Fprintf(out, "Delivered %d samples in %d chunks; %d of %d polled samples accepted, %d overwritten, %d lost in %d gaps\n",
		o.samples, o.chunks, stats.Accepted, stats.Polled, stats.Overwritten, stats.Lost, stats.GapEvents)
	return stopErr
}

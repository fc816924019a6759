package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/physio-sensor/internal/config"
	"github.com/sweeney/physio-sensor/internal/device"
)

func (a *app) newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Connect to the device, print its firmware version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(cmd.Context(), a.cfg, dialerFor(a.cfg.Device.Kind), cmd.OutOrStdout())
		},
	}
}

func probe(ctx context.Context, cfg *config.Config, dial device.Dialer, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	addr := cfg.Session().Address
	dev, err := dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer dev.Close()

	version := "unknown"
	if v, ok := dev.(device.Versioner); ok {
		if version, err = v.Version(); err != nil {
			return fmt.Errorf("read version: %w", err)
		}
	}
	fmt.Fprintf(out, "device: %s\nversion: %s\n", addr, version)
	return nil
}

// Command physio-sensor acquires respiration, ECG and EDA signals from a
// BITalino board, serves live traces over HTTP and classifies captured
// windows on demand.
package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/physio-sensor/internal/config"
	"github.com/sweeney/physio-sensor/internal/device"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// app carries state shared by all subcommands.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "physio-sensor",
		Short: "Physiological signal acquisition and on-demand classification",
		Long: `physio-sensor streams respiration, ECG and EDA from a BITalino board,
keeps a rolling history for live display and classifies a captured window
whenever a decision is requested.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default is /etc/physio-sensor/config.yaml or ./config.yaml)")
	pf.String("device", "", "device address: Bluetooth MAC or serial path")
	pf.String("kind", "", `device kind ("bitalino" or "synth")`)
	pf.Int("rate", 0, "sampling rate in Hz (10, 100 or 1000)")
	bindFlags(a.v, pf, map[string]string{
		"config": "config",
		"device": "device.address",
		"kind":   "device.kind",
		"rate":   "device.sampling_rate",
	})

	root.AddCommand(a.newServeCmd(), a.newRecordCmd(), a.newProbeCmd())
	return root
}

// bindFlags binds each named flag to a configuration key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) initConfig(cmd *cobra.Command, args []string) error {
	v := a.v
	config.SetDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/physio-sensor")
		v.AddConfigPath("$HOME/.config/physio-sensor")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	// PHYSIO_DEVICE_ADDRESS for device.address
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Printf("config: using %s", v.ConfigFileUsed())
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// dialerFor returns the device dialer for a configured kind.
func dialerFor(kind string) device.Dialer {
	if kind == config.KindSynth {
		return device.DialSynth
	}
	return device.DialBitalino
}

// Package main is the host tool for the DMA I2C firmware: it computes bus
// timings, talks to a board over serial, or runs the firmware in-process
// against simulated memories.
package main

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmai2c/host/config"
	"dmai2c/host/loopback"
	"dmai2c/host/mcu"
	"dmai2c/host/serial"
	"dmai2c/i2cdma"
	"dmai2c/i2cdma/sim"
)

const (
	flagConfig   = "config"
	flagDevice   = "device"
	flagBaud     = "baud"
	flagVerbose  = "verbose"
	flagLoopback = "loopback"
	flagAddress  = "address"
	flagOID      = "oid"
	flagLen      = "len"
	flagPCLK     = "pclk"
	flagRate     = "rate"
	flagMode     = "mode"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger *zap.SugaredLogger

	return &cli.App{
		Name:  "i2cdma-host",
		Usage: "talk to I2C devices behind the DMA I2C firmware",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load bus configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagDevice,
				Usage: "serial device path (overrides the config file)",
			},
			&cli.IntFlag{
				Name:  flagBaud,
				Usage: "baud rate (ignored for USB CDC)",
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagLoopback,
				Usage: "run the firmware in-process on the simulator instead of a serial port",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagVerbose) {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l.Sugar()
			} else {
				logger = zap.NewNop().Sugar()
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				// Sync fails on terminals; nothing useful to do about it.
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "timing",
				Usage: "compute the CR2/CCR/TRISE fields for a bus rate",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagPCLK, Value: 42000000, Usage: "APB1 clock in Hz"},
					&cli.UintFlag{Name: flagRate, Value: i2cdma.MaxFastHz, Usage: "SCL rate in Hz"},
					&cli.StringFlag{Name: flagMode, Value: "fm2", Usage: "sm, fm2 or fm169"},
				},
				Action: func(c *cli.Context) error {
					mode, err := i2cdma.ParseMode(c.String(flagMode))
					if err != nil {
						return err
					}
					pclk, rate := c.Uint(flagPCLK), c.Uint(flagRate)
					if pclk > math.MaxUint32 || rate > math.MaxUint32 {
						return fmt.Errorf("timing: pclk %d or rate %d does not fit 32 bits", pclk, rate)
					}
					tm, err := i2cdma.ComputeTiming(uint32(pclk), uint32(rate), mode)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "mode   %s\n", tm.Mode)
					fmt.Fprintf(c.App.Writer, "FREQ   %d MHz\n", tm.Freq)
					fmt.Fprintf(c.App.Writer, "CCR    %d\n", tm.Presc)
					fmt.Fprintf(c.App.Writer, "TRISE  %d\n", tm.Trise)
					fmt.Fprintf(c.App.Writer, "SCL    %d Hz\n", tm.SCL())
					return nil
				},
			},
			{
				Name:  "dict",
				Usage: "print the firmware's command dictionary",
				Action: func(c *cli.Context) error {
					return withMCU(c, logger, func(m *mcu.MCU, _ *config.Config) error {
						m.PrintDictionary(c.App.Writer)
						return nil
					})
				},
			},
			{
				Name:      "write",
				Usage:     "write bytes to the device",
				ArgsUsage: "<hex bytes>",
				Flags:     deviceFlags(),
				Action: func(c *cli.Context) error {
					data, err := parseHex(c.Args().Slice())
					if err != nil {
						return err
					}
					return withDevice(c, logger, func(m *mcu.MCU, oid uint8) error {
						return m.I2CWrite(oid, data)
					})
				},
			},
			{
				Name:      "read",
				Usage:     "write a register address, then read after a repeated START",
				ArgsUsage: "<hex register>",
				Flags:     append(deviceFlags(), &cli.IntFlag{Name: flagLen, Value: 1, Usage: "bytes to read"}),
				Action: func(c *cli.Context) error {
					reg, err := parseHex(c.Args().Slice())
					if err != nil {
						return err
					}
					return withDevice(c, logger, func(m *mcu.MCU, oid uint8) error {
						data, err := m.I2CRead(oid, reg, c.Int(flagLen))
						if err != nil {
							return err
						}
						fmt.Fprintln(c.App.Writer, hex.EncodeToString(data))
						return nil
					})
				},
			},
			{
				Name:      "xfer",
				Usage:     "run one write-then-read transaction and print its status",
				ArgsUsage: "[hex bytes]",
				Flags:     append(deviceFlags(), &cli.IntFlag{Name: flagLen, Usage: "bytes to read"}),
				Action: func(c *cli.Context) error {
					w, err := parseHex(c.Args().Slice())
					if err != nil {
						return err
					}
					return withDevice(c, logger, func(m *mcu.MCU, oid uint8) error {
						data, err := m.I2CTransfer(oid, w, c.Int(flagLen))
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "ok %s\n", hex.EncodeToString(data))
						return nil
					})
				},
			},
			{
				Name:  "sim",
				Usage: "run a scripted session against a simulated memory and print the bus log",
				Action: func(c *cli.Context) error {
					return runSim(c, logger)
				},
			},
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagAddress, Aliases: []string{"a"}, Usage: "7-bit device address, e.g. 0x50"},
		&cli.UintFlag{Name: flagOID, Usage: "object id to configure the device as"},
	}
}

// loadConfig applies the command line over the config file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if d := c.String(flagDevice); d != "" {
		cfg.Device = d
	}
	if b := c.Int(flagBaud); b != 0 {
		cfg.Baud = b
	}
	if a := c.String(flagAddress); a != "" {
		v, err := strconv.ParseUint(a, 0, 7)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", a, err)
		}
		cfg.Address = uint8(v)
	}
	if c.IsSet(flagOID) {
		cfg.OID = uint8(c.Uint(flagOID))
	}
	return cfg, cfg.Validate()
}

// withMCU connects, fetches the dictionary and runs fn.
func withMCU(c *cli.Context, logger *zap.SugaredLogger, fn func(*mcu.MCU, *config.Config) error) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m := mcu.NewMCU(logger)
	m.Timeout = cfg.Timeout()

	if c.Bool(flagLoopback) {
		board, conn, err := loopback.Start(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, board.Close()) }()
		m.Attach(conn)
	} else {
		scfg := serial.DefaultConfig(cfg.Device)
		scfg.Baud = cfg.Baud
		if err := m.ConnectWithConfig(scfg); err != nil {
			return err
		}
	}
	defer func() { err = multierr.Append(err, m.Close()) }()

	if err := m.RetrieveDictionary(); err != nil {
		return err
	}
	return fn(m, cfg)
}

// withDevice also configures the device the config names.
func withDevice(c *cli.Context, logger *zap.SugaredLogger, fn func(*mcu.MCU, uint8) error) error {
	return withMCU(c, logger, func(m *mcu.MCU, cfg *config.Config) error {
		if err := m.ConfigI2C(cfg.OID, cfg.Bus, cfg.Rate, cfg.Address); err != nil {
			return err
		}
		return fn(m, cfg.OID)
	})
}

// parseHex accepts "10cafe", "10 ca fe" and "0x10 0xca 0xfe".
func parseHex(args []string) ([]byte, error) {
	var sb strings.Builder
	for _, a := range args {
		for _, f := range strings.Fields(a) {
			f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
			if len(f)%2 == 1 {
				f = "0" + f
			}
			sb.WriteString(f)
		}
	}
	return hex.DecodeString(sb.String())
}

// runSim writes a pattern into the first simulated memory, reads it back
// and shows the bus traffic of each step.
func runSim(c *cli.Context, logger *zap.SugaredLogger) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	board, conn, err := loopback.Start(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, board.Close()) }()

	m := mcu.NewMCU(logger)
	m.Timeout = cfg.Timeout()
	m.Attach(conn)
	defer func() { err = multierr.Append(err, m.Close()) }()
	if err := m.RetrieveDictionary(); err != nil {
		return err
	}

	dev := cfg.Sim.Devices[0]
	if err := m.ConfigI2C(cfg.OID, cfg.Bus, cfg.Rate, dev.Address); err != nil {
		return err
	}
	ptr := make([]byte, dev.PtrSize)
	pattern := []byte{0xde, 0xad, 0xbe, 0xef}

	step := func(name string, run func() ([]byte, error)) {
		board.Sim.ResetLog()
		data, err := run()
		status := "ok"
		if err != nil {
			status = err.Error()
		}
		fmt.Fprintf(c.App.Writer, "%-8s %s", name, status)
		if len(data) > 0 {
			fmt.Fprintf(c.App.Writer, " %s", hex.EncodeToString(data))
		}
		fmt.Fprintf(c.App.Writer, "\n         %s\n", sim.FormatTrace(board.Trace()))
	}

	steps := []struct {
		name string
		run  func() ([]byte, error)
	}{
		{"write", func() ([]byte, error) { return nil, m.I2CWrite(cfg.OID, append(ptr, pattern...)) }},
		{"read", func() ([]byte, error) { return m.I2CRead(cfg.OID, ptr, len(pattern)) }},
		{"xfer", func() ([]byte, error) { return m.I2CTransfer(cfg.OID, ptr, 2) }},
	}
	for _, s := range steps {
		step(s.name, s.run)
	}

	// An address nobody answers shows the NACK path.
	absent := uint8(0x7f)
	if _, taken := board.Memories[absent]; !taken {
		if err := m.ConfigI2C(cfg.OID+1, cfg.Bus, cfg.Rate, absent); err != nil {
			return err
		}
		step("absent", func() ([]byte, error) { return m.I2CTransfer(cfg.OID+1, nil, 1) })
	}
	return nil
}

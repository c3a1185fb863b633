package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/esp-loader/internal/loader"
	"github.com/bigbag/esp-loader/internal/protocol"
	"github.com/bigbag/esp-loader/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag     string
	baudFlag     int
	highBaudFlag int
	offsetFlag   string
	noStubFlag   bool
	rebootFlag   bool
	debugFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "esp-loader",
		Short: "Flash firmware to ESP32, ESP32-S2 and ESP8266 devices",
		Long: `esp-loader talks to the ESP ROM serial bootloader: it resets the
chip into download mode, synchronizes with it, optionally uploads a
faster RAM stub, and streams firmware into SPI flash.`,
	}
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Initial baud rate")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Log protocol traffic")

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash a firmware image",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlash,
	}
	flashCmd.Flags().StringVar(&offsetFlag, "offset", "0x10000", "Flash offset")
	flashCmd.Flags().IntVar(&highBaudFlag, "high-baud", 921600, "Baud rate after stub upload (0 keeps the initial rate)")
	flashCmd.Flags().BoolVar(&noStubFlag, "no-stub", false, "Talk to the ROM loader directly")
	flashCmd.Flags().BoolVar(&rebootFlag, "reboot", true, "Reboot the chip after flashing")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show chip information",
		RunE:  runInfo,
	}

	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the entire flash",
		RunE:  runErase,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("esp-loader %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, infoCmd, eraseCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect opens the port and brings up the bootloader connection.
// The returned cleanup stops the reader and closes the port.
func connect(useStub bool) (*loader.Loader, *serial.Port, func(), error) {
	if portFlag == "" {
		return nil, nil, nil, fmt.Errorf("--port is required")
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return nil, nil, nil, err
	}

	l := loader.New(port, loader.Options{Debug: debugFlag})
	fmt.Printf("Connecting to bootloader on %s...\n", portFlag)
	if err := l.Connect(); err != nil {
		port.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := l.Disconnect(); err != nil {
			fmt.Printf("Warning: reader ended with: %v\n", err)
		}
		port.Close()
	}

	name, err := l.ChipName()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	fmt.Printf("Detected %s\n", name)

	if useStub {
		fmt.Println("Uploading stub loader...")
		if err := l.LoadStub(nil); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		if highBaudFlag != 0 && highBaudFlag != baudFlag {
			if err := l.ChangeBaudRate(highBaudFlag); err != nil {
				cleanup()
				return nil, nil, nil, err
			}
			fmt.Printf("Baud rate: %d\n", highBaudFlag)
		}
	}

	return l, port, cleanup, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	offset, err := strconv.ParseUint(offsetFlag, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", offsetFlag, err)
	}

	fmt.Printf("Firmware: %s (%d bytes)\n", args[0], len(firmware))

	l, port, cleanup, err := connect(!noStubFlag)
	if err != nil {
		return err
	}
	defer cleanup()

	var bar *progressbar.ProgressBar
	progress := func(block, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Flashing"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(100),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(block)
	}

	fmt.Printf("Writing %d bytes at 0x%X...\n", len(firmware), offset)
	if err := l.FlashData(firmware, uint32(offset), progress, false); err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	if err := l.FlashFinish(rebootFlag); err != nil {
		return err
	}
	fmt.Println("\nFlash complete!")

	if rebootFlag {
		fmt.Println("Rebooting device...")
		if err := port.HardReset(); err != nil {
			fmt.Printf("Warning: reboot failed: %v\n", err)
		}
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	l, port, cleanup, err := connect(false)
	if err != nil {
		return err
	}
	defer cleanup()

	name, err := l.ChipName()
	if err != nil {
		return err
	}
	mac, err := l.MacAddr()
	if err != nil {
		return err
	}

	fmt.Printf("  Port: %s @ %d baud\n", port.PortName(), port.BaudRate())
	fmt.Printf("  Chip: %s\n", name)
	fmt.Printf("  MAC:  %02X:%02X:%02X:%02X:%02X:%02X\n", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	l, _, cleanup, err := connect(true)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Println("Erasing flash (this can take a while)...")
	if err := l.EraseFlash(); err != nil {
		return err
	}
	fmt.Println("Erase complete!")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

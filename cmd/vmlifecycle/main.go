// vmlifecycle - CLI tool for VM lifecycle operations in VMware vCenter
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

var (
	flagHost     string
	flagPort     int
	flagUsername string
	flagPassword string
	flagInsecure bool
	flagDebug    bool
	flagLogFile  string
)

var rootCmd = &cobra.Command{
	Use:           "vmlifecycle",
	Short:         "Create, clone, power-cycle and delete VMs in VMware vCenter",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagHost, "host", "", "vCenter or ESXi host to connect to")
	pf.IntVar(&flagPort, "port", 0, "server port (default 443)")
	pf.StringVar(&flagUsername, "username", "", "username to authenticate with")
	pf.StringVar(&flagPassword, "password", "", "password (prompted when omitted)")
	pf.BoolVarP(&flagInsecure, "insecure", "k", false, "skip TLS certificate verification")
	pf.BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	pf.StringVarP(&flagLogFile, "log-file", "l", "", "also write logs to this file")

	_ = rootCmd.MarkPersistentFlagRequired("host")
	_ = rootCmd.MarkPersistentFlagRequired("username")

	rootCmd.AddCommand(
		createCmd,
		cloneCmd,
		powerOnCmd,
		powerOffCmd,
		resetCmd,
		deleteCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		reportFailure(err)
		os.Exit(1)
	}
}

// reportFailure prints the failure with its taxonomy category so exit
// status consumers can distinguish what went wrong.
func reportFailure(err error) {
	if kind := fault.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", kind, err)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

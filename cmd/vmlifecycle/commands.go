package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Bibi40k/vmware-vm-lifecycle/configs"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/lifecycle"
)

var (
	createConfigFile string
	cloneConfigFile  string
	vmName           string
	vmDatacenter     string
	deletePowerOff   bool
)

var createCmd = &cobra.Command{
	Use:           "create",
	Short:         "Create a VM from a YAML configuration file",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lifecycle.LoadCreateConfig(createConfigFile)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.Create(ctx, cfg)
		})
	},
}

var cloneCmd = &cobra.Command{
	Use:           "clone",
	Short:         "Clone a VM from a template using a YAML configuration file",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lifecycle.LoadCloneConfig(cloneConfigFile)
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.Clone(ctx, cfg)
		})
	},
}

var powerOnCmd = &cobra.Command{
	Use:           "power-on",
	Short:         "Power on an existing VM",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.PowerOn(ctx, vmDatacenter, vmName)
		})
	},
}

var powerOffCmd = &cobra.Command{
	Use:           "power-off",
	Short:         "Power off an existing VM",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.PowerOff(ctx, vmDatacenter, vmName)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:           "reset",
	Short:         "Reset a running VM",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.Reset(ctx, vmDatacenter, vmName)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:           "delete",
	Short:         "Delete an existing VM (refuses powered-on VMs unless --power-off)",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, op *lifecycle.Operator, _ *slog.Logger) error {
			return op.Delete(ctx, vmDatacenter, vmName, deletePowerOff)
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createConfigFile, "config", "", "YAML file describing the VM to create")
	_ = createCmd.MarkFlagRequired("config")

	cloneCmd.Flags().StringVar(&cloneConfigFile, "config", "", "YAML file describing the clone operation")
	_ = cloneCmd.MarkFlagRequired("config")

	for _, cmd := range []*cobra.Command{powerOnCmd, powerOffCmd, resetCmd, deleteCmd} {
		cmd.Flags().StringVar(&vmName, "vm-name", "", "name of the VM to operate on")
		cmd.Flags().StringVar(&vmDatacenter, "datacenter", "", "datacenter containing the VM (default: sole datacenter)")
		_ = cmd.MarkFlagRequired("vm-name")
	}

	deleteCmd.Flags().BoolVar(&deletePowerOff, "power-off",
		configs.Defaults.Policy.PowerOffBeforeDelete,
		"power off a running VM before deleting it instead of refusing")
}

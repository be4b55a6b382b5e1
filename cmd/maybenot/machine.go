package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/maybenot/pkg/logging"
	"github.com/jihwankim/maybenot/pkg/maybenot"
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Inspect a machine's wire encoding",
}

var machineDescribeCmd = &cobra.Command{
	Use:   "describe <wire-string>",
	Args:  cobra.ExactArgs(1),
	Short: "Parse a machine and print its limits and states",
	RunE:  runMachineDescribe,
}

var machineNameCmd = &cobra.Command{
	Use:   "name <wire-string>",
	Args:  cobra.ExactArgs(1),
	Short: "Parse a machine and print its deterministic name",
	RunE:  runMachineName,
}

func init() {
	machineCmd.AddCommand(machineDescribeCmd)
	machineCmd.AddCommand(machineNameCmd)
}

func runMachineDescribe(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m, err := maybenot.ParseMachine(args[0])
	if err != nil {
		return fmt.Errorf("failed to parse machine: %w", err)
	}

	logging.Info("parsed machine")
	fmt.Print(m.String())
	return nil
}

func runMachineName(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m, err := maybenot.ParseMachine(args[0])
	if err != nil {
		return fmt.Errorf("failed to parse machine: %w", err)
	}

	fmt.Println(m.Name())
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/servobus/session"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that may have a servo adapter attached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports := session.New(nil, logger).ListPorts()
		if len(ports) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/servobus/controltable"
	"github.com/hipsterbrown/servobus/session"
)

var scanCmd = &cobra.Command{
	Use:   "scan --port PORT",
	Short: "Sweep a range of IDs and report every servo that answers",
	Long: `Pings each ID in the range and prints the servos found. Press Ctrl-C to
stop early; servos found so far are still reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, protocol, baudrate := busParams(cmd)
		start, _ := cmd.Flags().GetUint8("start")
		end, _ := cmd.Flags().GetUint8("end")
		if !cmd.Flags().Changed("start") {
			start = uint8(cfg.Serial.ScanIDStart)
		}
		if !cmd.Flags().Changed("end") {
			end = uint8(cfg.Serial.ScanIDEnd)
		}

		s := session.New(nil, logger)
		defer s.Close()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			if _, ok := <-sigs; ok {
				s.CancelScan()
			}
		}()

		out, status := cmd.OutOrStdout(), cmd.ErrOrStderr()
		var found []session.ServoInfo
		sink := session.SinkFunc[session.ScanEvent](func(ev session.ScanEvent) error {
			switch ev := ev.(type) {
			case session.Progress:
				fmt.Fprintf(status, "\rscanning id %3d (%d ids)", ev.Current, ev.Total)
			case session.Found:
				found = append(found, ev.ServoInfo)
				fmt.Fprintf(status, "\r%-30s\r", "")
				fmt.Fprintf(out, "found id %3d  %s\n", ev.ID, describeModel(ev.ModelNumber, protocol))
			case session.ScanFinished:
				fmt.Fprintf(status, "\r%-30s\r", "")
				if ev.Cancelled {
					fmt.Fprintln(status, "scan cancelled")
				}
			}
			return nil
		})

		req := session.ScanRequest{
			Port:     port,
			Protocol: protocol,
			Baudrate: baudrate,
			IDStart:  start,
			IDEnd:    end,
		}
		if err := s.ScanServos(context.Background(), req, sink); err != nil {
			return err
		}
		fmt.Fprintf(status, "%d servo(s) found\n", len(found))
		return nil
	},
}

func describeModel(number uint16, protocol session.Protocol) string {
	if protocol == session.ProtocolV1 {
		return "(protocol 1.0 does not report a model)"
	}
	if m, ok := controltable.ByNumber(number); ok {
		return fmt.Sprintf("model %d (%s)", number, m.Name)
	}
	return fmt.Sprintf("model %d", number)
}

func init() {
	addBusFlags(scanCmd)
	scanCmd.Flags().Uint8("start", 0, "first ID to ping")
	scanCmd.Flags().Uint8("end", 252, "last ID to ping")
}

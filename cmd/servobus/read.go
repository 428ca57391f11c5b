package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/servobus/controltable"
	"github.com/hipsterbrown/servobus/session"
)

var readCmd = &cobra.Command{
	Use:   "read --port PORT --id ID [--field NAME|ADDR:SIZE]...",
	Short: "Read control table fields from one servo",
	Long: `Reads the given fields from a servo. Without --field the servo's model is
identified and its whole control table is read.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, protocol, baudrate := busParams(cmd)
		id, _ := cmd.Flags().GetUint8("id")
		raw, _ := cmd.Flags().GetStringSlice("field")

		specs := make([]fieldSpec, 0, len(raw))
		identify := len(raw) == 0
		for _, r := range raw {
			spec, err := parseFieldSpec(r)
			if err != nil {
				return err
			}
			identify = identify || spec.needsModel()
			specs = append(specs, spec)
		}

		ctx := context.Background()
		s := session.New(nil, logger)
		defer s.Close()

		model, err := openAndIdentify(ctx, s, port, protocol, baudrate, id, identify)
		if err != nil {
			return err
		}

		var fields []session.RegisterField
		if len(specs) == 0 {
			fields = model.Registers()
		}
		for _, spec := range specs {
			f, err := spec.resolve(model)
			if err != nil {
				return err
			}
			fields = append(fields, f)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		if model != nil {
			fmt.Fprintf(w, "# servo %d: %s (model %d)\n", id, model.Name, model.Number)
		}
		sink := session.SinkFunc[session.ReadEvent](func(ev session.ReadEvent) error {
			switch ev := ev.(type) {
			case session.Value:
				name, value := describeValue(model, ev.Address, ev.Value)
				fmt.Fprintf(w, "%d\t%s\t%s\n", ev.Address, name, value)
			case session.ReadError:
				name, _ := describeValue(model, ev.Address, 0)
				fmt.Fprintf(w, "%d\t%s\terror: %s\n", ev.Address, name, ev.Message)
			}
			return nil
		})
		return s.ReadControlTable(ctx, id, fields, sink)
	},
}

func describeValue(m *controltable.Model, address uint16, raw int64) (string, string) {
	if m != nil {
		if f, ok := m.FieldAt(address); ok {
			return f.Name, f.Format(raw)
		}
	}
	return "-", fmt.Sprintf("%d", raw)
}

func init() {
	addBusFlags(readCmd)
	readCmd.Flags().Uint8("id", 1, "servo ID")
	readCmd.Flags().StringSliceP("field", "f", nil, "field name or ADDR:SIZE; repeatable")
}

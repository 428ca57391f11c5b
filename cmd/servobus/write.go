package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hipsterbrown/servobus/dynamixel"
	"github.com/hipsterbrown/servobus/session"
)

var writeCmd = &cobra.Command{
	Use:   "write --port PORT --id ID --field NAME|ADDR:SIZE --value N",
	Short: "Write one control table field",
	Long: `Writes a value to one field of a servo. Values are raw register counts
unless --scaled is set, in which case the value is in the field's unit and
the field must be given by name.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, protocol, baudrate := busParams(cmd)
		id, _ := cmd.Flags().GetUint8("id")
		rawField, _ := cmd.Flags().GetString("field")
		rawValue, _ := cmd.Flags().GetString("value")
		scaled, _ := cmd.Flags().GetBool("scaled")

		spec, err := parseFieldSpec(rawField)
		if err != nil {
			return err
		}
		if scaled && !spec.needsModel() {
			return fmt.Errorf("--scaled needs a field name")
		}
		value, err := decimal.NewFromString(rawValue)
		if err != nil {
			return fmt.Errorf("invalid --value %q: %w", rawValue, err)
		}

		ctx := context.Background()
		s := session.New(nil, logger)
		defer s.Close()

		model, err := openAndIdentify(ctx, s, port, protocol, baudrate, id, spec.needsModel())
		if err != nil {
			return err
		}

		register, err := spec.resolve(model)
		if err != nil {
			return err
		}

		raw := value.Round(0).IntPart()
		if model != nil {
			field, _ := model.FieldAt(register.Address)
			if !field.Writable() {
				return fmt.Errorf("field %s is read-only", field.Name)
			}
			if scaled {
				raw = field.Raw(value)
			}
		}

		data := dynamixel.EncodeValue(raw, int(register.Size))
		if err := s.WriteAddress(ctx, id, register.Address, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d to servo %d address %d\n", raw, id, register.Address)
		return nil
	},
}

func init() {
	addBusFlags(writeCmd)
	writeCmd.Flags().Uint8("id", 1, "servo ID")
	writeCmd.Flags().StringP("field", "f", "", "field name or ADDR:SIZE")
	writeCmd.Flags().String("value", "", "value to write")
	writeCmd.Flags().Bool("scaled", false, "interpret --value in the field's unit")
	_ = writeCmd.MarkFlagRequired("field")
	_ = writeCmd.MarkFlagRequired("value")
}

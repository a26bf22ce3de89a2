package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/BenOr-Engine/data"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print a ledger file written by simulate --export or GET /ledger.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rows, err := data.ImportLedgers(payload)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			table := pterm.TableData{{"PARTICIPANT", "ROUND", "PHASE", "SENDER", "VALUE"}}
			for _, row := range rows {
				m := row.Message
				table = append(table, []string{
					strconv.Itoa(row.ParticipantID),
					strconv.Itoa(m.Round),
					strconv.Itoa(int(m.Phase)),
					strconv.Itoa(m.SenderID),
					m.Value.String(),
				})
			}
			return renderTable(cmd.OutOrStdout(), table)
		},
	}
}

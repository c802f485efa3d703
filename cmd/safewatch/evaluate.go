package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"safewatch/internal/engine"
	"safewatch/internal/models"
	"safewatch/internal/severity"
)

type evaluation struct {
	ID     string            `json:"id,omitempty"`
	Alerts models.AlertBatch `json:"alerts"`
	Severe bool              `json:"severe"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [file]",
	Short: "Run the rule catalog against one record and print its alerts",
	Long: "Reads a record object from file, or stdin when no file is given, and prints\n" +
		"the alerts it would raise. Nothing is broadcast or escalated.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		id, fields, err := models.DecodeRecordJSON(data)
		if err != nil {
			return fmt.Errorf("decode record: %w", err)
		}

		batch := engine.New().Evaluate(fields)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(evaluation{ID: id, Alerts: batch, Severe: severity.IsSevere(batch)})
	},
}

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/service"
	"github.com/makeasinger/sunoproxy/internal/worker"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the credit probe once and print its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := worker.NewProbeWorker(service.NewMusicFactory(&cfg.Suno))
		rc := jobs.NewRunContext("probe-"+uuid.NewString(), 1, 1, nil, nil)

		out, err := w.Run(cmd.Context(), rc, struct{}{})
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		if !out.Success {
			return fmt.Errorf("credit probe failed: %s", out.Error)
		}
		return nil
	},
}

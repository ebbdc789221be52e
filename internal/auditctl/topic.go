package auditctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewTopicCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage the audit topic",
	}

	var partitions int32
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the audit topic if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg := rt.kafkaConfig()
			if partitions > 0 {
				cfg.Partitions = partitions
			}
			if err := rt.ensureTopic(cmd.Context(), cfg, rt.logger); err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.writer, "topic %s ready\n", cfg.Topic)
			return err
		},
	}
	ensure.Flags().Int32Var(&partitions, "partitions", 0, "Partitions when creating (default 3)")

	cmd.AddCommand(ensure)
	return cmd
}

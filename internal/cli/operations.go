package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
)

func newExportCmd(opts *globalOptions, p *printer) *cobra.Command {
	var (
		tenantScoped bool
		exportedBy   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the instance as a blueprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := opts.instanceID(a.Config)
			if err != nil {
				return err
			}
			exp, err := a.Exporter.Export(ctx, blueprint.ExportRequest{
				InstanceID:         id,
				MakeTenantAgnostic: !tenantScoped,
				ExportedBy:         exportedBy,
			})
			if err != nil {
				return err
			}
			if done, err := p.encode(opts.output, exp); done {
				return err
			}

			if err := p.table([][2]string{
				{"Export", strconv.FormatInt(exp.ID, 10)},
				{"Instance", exp.InstanceID},
				{"Blueprint version", exp.BlueprintVersion},
				{"Tenant agnostic", strconv.FormatBool(exp.IsTenantAgnostic)},
				{"Exported at", exp.ExportedAt.Format(time.RFC3339)},
			}); err != nil {
				return err
			}
			if exp.ValidationStatus == core.ValidationValid {
				p.success("Export is valid")
				return nil
			}
			details := ""
			if exp.ValidationDetails != nil {
				details = *exp.ValidationDetails
			}
			p.warning("Export is %s: %s", exp.ValidationStatus, details)
			return nil
		},
	}

	cmd.Flags().BoolVar(&tenantScoped, "tenant-scoped", false, "Keep tenant identifiers in the export")
	cmd.Flags().StringVar(&exportedBy, "by", "sotctl", "Actor recorded on the export")
	return cmd
}

func newSweepCmd(opts *globalOptions, p *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail stuck clone operations and re-dispatch idle ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Orchestrator.Sweep(ctx)
			if err != nil {
				return err
			}
			// Inline provisioning started by a re-dispatch runs in this process.
			a.Orchestrator.Wait()

			if done, err := p.encode(opts.output, res); done {
				return err
			}
			p.success("Sweep complete: %d failed, %d re-dispatched", res.Failed, res.Redispatched)
			return nil
		},
	}
}

func newEventsCmd(opts *globalOptions, p *printer) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream lifecycle events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return fmt.Errorf("nats.url is not configured")
			}

			bus, err := events.NewBus(cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("connect to nats: %w", err)
			}
			defer bus.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := bus.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) error {
				fmt.Fprintf(p.out, "%s %s\n", cyan.Sprint(subj), data)
				return nil
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			p.info("Listening on %s", subject)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "sot.>", "Subject filter")
	return cmd
}

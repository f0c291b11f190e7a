package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/sot"
)

func newDeclareCmd(opts *globalOptions, p *printer) *cobra.Command {
	var (
		instanceType string
		callbackURL  string
		tools        []string
	)

	cmd := &cobra.Command{
		Use:   "declare",
		Short: "Push the instance declaration to the SOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req := a.LocalDeclaration()
			if req.InstanceID, err = opts.instanceID(a.Config); err != nil {
				return err
			}
			if instanceType != "" {
				req.InstanceType = instanceType
				req.IsTemplate = instanceType == string(core.InstanceTemplate)
				req.IsCloneable = req.IsTemplate
			}
			if callbackURL != "" {
				req.CallbackURL = callbackURL
			}
			if len(tools) > 0 {
				req.ToolsSupported = tools
			}

			res, err := a.SOT.Declare(ctx, req)
			if err != nil {
				return err
			}
			if done, err := p.encode(opts.output, res); done {
				return err
			}

			d := res.Declaration
			if err := p.table([][2]string{
				{"Instance", d.InstanceID},
				{"Type", string(d.InstanceType)},
				{"Blueprint version", d.BlueprintVersion},
				{"Status", string(d.Status)},
			}); err != nil {
				return err
			}
			if res.Pushed {
				p.success("Declaration pushed")
			} else {
				p.warning("Declaration not pushed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceType, "type", "", "Instance type (template or client_site)")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "URL the SOT calls back")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "Supported tool keys")
	return cmd
}

func newCheckInCmd(opts *globalOptions, p *printer) *cobra.Command {
	var (
		pages int
		tools []string
	)

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Run a manual check-in against the SOT",
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

			var m sot.Metrics
			if cmd.Flags().Changed("pages") || cmd.Flags().Changed("tools") {
				m = sot.Metrics{TotalPages: pages, InstalledTools: tools}
			} else if m, err = a.SOT.CollectMetrics(ctx, id); err != nil {
				return err
			}

			res, err := a.SOT.CheckIn(ctx, id, m, sot.TriggerManual)
			if err != nil {
				return err
			}
			if done, err := p.encode(opts.output, res); done {
				return err
			}

			if res.Status == core.SyncSuccess {
				p.success("Check-in succeeded: %s", res.Message)
			} else {
				p.warning("Check-in failed: %s", res.Error)
			}
			return printHealth(p, res.Health)
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 0, "Override the reported page count")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "Override the reported installed tools")
	return cmd
}

func newStatusCmd(opts *globalOptions, p *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the SOT health of an instance",
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
			report, err := a.SOT.Health(ctx, id)
			if err != nil {
				return err
			}
			if done, err := p.encode(opts.output, report); done {
				return err
			}
			return printHealth(p, report)
		},
	}
}

func newLogsCmd(opts *globalOptions, p *printer) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent sync log entries",
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
			entries, err := a.SOT.Logs(ctx, id, limit)
			if err != nil {
				return err
			}
			if done, err := p.encode(opts.output, entries); done {
				return err
			}
			if len(entries) == 0 {
				p.info("No sync logs for %s", id)
				return nil
			}

			rows := make([][2]string, 0, len(entries))
			for _, e := range entries {
				detail := e.Details.Message
				if e.Details.Error != "" {
					detail = e.Details.Error
				}
				rows = append(rows, [2]string{
					e.CreatedAt.Format(time.RFC3339),
					strings.Join([]string{e.EventType, string(e.Status), detail}, "  "),
				})
			}
			return p.table(rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	return cmd
}

func printHealth(p *printer, r sot.HealthReport) error {
	rows := [][2]string{
		{"Instance", r.InstanceID},
		{"Health", healthBadge(r.Status)},
		{"Message", r.Message},
		{"Declared", strconv.FormatBool(r.Declared)},
	}
	if r.DeclarationStatus != "" {
		rows = append(rows, [2]string{"Declaration", r.DeclarationStatus})
	}
	if r.LastSyncAt != nil {
		rows = append(rows, [2]string{"Last sync", r.LastSyncAt.Format(time.RFC3339)})
	}
	if r.LastError != "" {
		rows = append(rows, [2]string{"Last error", r.LastError})
	}
	if r.StaleAt != nil {
		rows = append(rows, [2]string{"Stale at", r.StaleAt.Format(time.RFC3339)})
	}
	rows = append(rows, [2]string{"Next check-in", r.NextCheckInAt.Format(time.RFC3339)})
	return p.table(rows)
}

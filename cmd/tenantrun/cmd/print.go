package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/lock"
)

// printer renders query results as an aligned table or as JSON.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{w: cmd.OutOrStdout(), json: viper.GetString("output") == "json"}
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) execution(e *execution.Execution, tenants []*execution.TenantExecution) error {
	if p.json {
		return p.encode(struct {
			*execution.Execution
			Tenants []*execution.TenantExecution `json:"tenants"`
		}{e, tenants})
	}

	fmt.Fprintf(p.w, "Execution  %s\n", e.ID)
	fmt.Fprintf(p.w, "Job        %s\n", e.JobName)
	fmt.Fprintf(p.w, "Status     %s\n", e.Status)
	fmt.Fprintf(p.w, "Tenants    %s\n", counts(e))
	fmt.Fprintf(p.w, "Started    %s\n", e.StartedAt.Format(time.RFC3339))
	if e.FinishedAt != nil {
		fmt.Fprintf(p.w, "Finished   %s (%s)\n", e.FinishedAt.Format(time.RFC3339), e.Duration().Round(time.Millisecond))
	}
	if e.Error != "" {
		fmt.Fprintf(p.w, "Error      %s\n", e.Error)
	}
	if len(tenants) == 0 {
		return nil
	}

	fmt.Fprintln(p.w)
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSTATUS\tATTEMPTS\tKIND\tERROR")
	for _, te := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", te.TenantID, te.Status, te.AttemptCount, dash(te.ErrorKind), dash(te.Error))
	}
	return tw.Flush()
}

func (p *printer) executions(list []*execution.Execution) error {
	if p.json {
		return p.encode(list)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTENANTS\tSTARTED\tDURATION")
	for _, e := range list {
		dur := "-"
		if e.FinishedAt != nil {
			dur = e.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, counts(e), e.StartedAt.Format(time.RFC3339), dur)
	}
	return tw.Flush()
}

type lockRow struct {
	JobName string     `json:"job_name"`
	Lock    *lock.Lock `json:"lock,omitempty"`
}

func (p *printer) locks(rows []lockRow) error {
	if p.json {
		return p.encode(rows)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tHOLDER\tACQUIRED\tEXPIRES")
	for _, r := range rows {
		if r.Lock == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\n", r.JobName)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.JobName, r.Lock.HolderID,
			r.Lock.AcquiredAt.Format(time.RFC3339), r.Lock.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func counts(e *execution.Execution) string {
	if e.TotalTenants == execution.UnknownTotal {
		return "-"
	}
	return fmt.Sprintf("%d ok, %d failed of %d", e.SuccessCount, e.FailedCount, e.TotalTenants)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

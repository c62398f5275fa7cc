package cmd

import (
	"fmt"
	"io"

	"github.com/overmindtech/decommission/decom"
	"github.com/overmindtech/pterm"
	log "github.com/sirupsen/logrus"
)

func PTermSetup() {
	pterm.Success.Prefix.Text = OkSymbol()
	pterm.Warning.Prefix.Text = UnknownSymbol()
	pterm.Error.Prefix.Text = ErrSymbol()
	pterm.Info.Prefix.Text = InfoSymbol()
}

// terminalReporter prints each stage's results as tables. Nothing here can
// fail the run, rendering errors are only logged
type terminalReporter struct {
	out io.Writer
}

func newTerminalReporter(out io.Writer) *terminalReporter {
	return &terminalReporter{out: out}
}

func (r *terminalReporter) title(title string) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render(title))
}

func (r *terminalReporter) table(rows []decom.Row, empty string) {
	if len(rows) == 0 {
		fmt.Fprintln(r.out, faintStyle.Render(empty))
		return
	}

	data := pterm.TableData{rows[0].TableHeader()}
	for _, row := range rows {
		data = append(data, row.TableRow())
	}

	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		log.WithError(err).Warn("Could not render table")
		return
	}
	fmt.Fprintln(r.out, s)
}

func (r *terminalReporter) ReportInstances(title string, records []decom.InstanceRecord) {
	r.title(title)
	r.table(decom.Rows(records), "No matching instances found.")
}

func (r *terminalReporter) ReportBackups(outcomes []decom.BackupOutcome) {
	r.title("Backups")
	r.table(decom.Rows(outcomes), "No instances were backed up.")
}

func (r *terminalReporter) ReportTerminations(outcomes []decom.TerminationOutcome) {
	r.title("Terminations")
	r.table(decom.Rows(outcomes), "No instances were eligible for termination.")
}

func (r *terminalReporter) Message(msg string) {
	fmt.Fprint(r.out, pterm.Info.Sprintln(msg))
}

func (r *terminalReporter) Info(msg string) {
	fmt.Fprint(r.out, pterm.Info.Sprintln(msg))
}

func (r *terminalReporter) Warn(msg string) {
	fmt.Fprint(r.out, pterm.Warning.Sprintln(msg))
}

// ReportSummary prints the final tally of a run
func (r *terminalReporter) ReportSummary(s decom.Summary) {
	msg := fmt.Sprintf("%d instance(s): %d backed up, %d backup(s) failed, %d terminating, %d termination(s) failed",
		s.Instances, s.BackedUp, s.BackupFailed, s.Terminated, s.TerminationFailed)

	fmt.Fprintln(r.out)
	if s.BackupFailed > 0 || s.TerminationFailed > 0 {
		fmt.Fprint(r.out, pterm.Warning.Sprintln(msg))
		return
	}
	fmt.Fprint(r.out, pterm.Success.Sprintln(msg))
}

// internal/infra/console/console.go
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"mediscout/internal/app"
	"mediscout/internal/domain/appointment"
)

const dateTimeLayout = "2006-01-02 15:04"

// Printer renders command results as tables.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter writes to out. Colors are used for headers and empty-result
// messages only when color is true.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func (p *Printer) header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		if p.color {
			row[i] = text.FgHiCyan.Sprint(c)
		} else {
			row[i] = c
		}
	}
	return row
}

func (p *Printer) empty(msg string) {
	if p.color {
		msg = text.FgYellow.Sprint(msg)
	}
	fmt.Fprintln(p.out, msg)
}

// Appointments prints one row per slot.
func (p *Printer) Appointments(appointments []appointment.Appointment) {
	if len(appointments) == 0 {
		p.empty("No appointments found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(p.header("DATE", "CLINIC", "DOCTOR", "SPECIALTY"))
	for _, a := range appointments {
		t.AppendRow(table.Row{a.Date.Format(dateTimeLayout), orNA(a.ClinicName), orNA(a.DoctorName), orNA(a.SpecialtyName)})
	}
	t.Render()
}

// Watches prints stored watches with resolved names, falling back to ids.
func (p *Printer) Watches(watches []app.WatchDescription) {
	if len(watches) == 0 {
		p.empty("No watches found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(p.header("ID", "REGION", "SPECIALTY", "CLINIC", "DOCTOR", "FROM"))
	for _, d := range watches {
		c := d.Watch.Criteria
		specialties := make([]string, 0, len(c.SpecialtyIDs))
		for i, id := range c.SpecialtyIDs {
			name := ""
			if i < len(d.Specialties) {
				name = d.Specialties[i]
			}
			specialties = append(specialties, labelled(name, id))
		}
		t.AppendRow(table.Row{
			d.Watch.ID,
			labelled(d.RegionName, c.RegionID),
			strings.Join(specialties, ", "),
			optionalID(c.ClinicID),
			optionalID(c.DoctorID),
			c.StartDate.Format(appointment.WatchDateLayout),
		})
	}
	t.Render()
}

// Filters prints id/value pairs of one filter kind.
func (p *Printer) Filters(options []appointment.FilterOption) {
	if len(options) == 0 {
		p.empty("No filters found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(p.header("ID", "NAME"))
	for _, o := range options {
		t.AppendRow(table.Row{o.ID, o.Value})
	}
	t.Render()
}

func labelled(name string, id int64) string {
	if name == "" {
		return strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s (%d)", name, id)
}

func optionalID(id int64) string {
	if id == 0 {
		return "any"
	}
	return strconv.FormatInt(id, 10)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

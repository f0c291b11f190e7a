package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/leozw/blueprint-sot/internal/core"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

type printer struct {
	out io.Writer
	err io.Writer
}

func newPrinter(out, err io.Writer) *printer {
	return &printer{out: out, err: err}
}

// encode writes v as json or yaml. It reports false for the table format so
// the caller renders its own view.
func (p *printer) encode(format string, v any) (bool, error) {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so yaml keys match the API's field names.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(generic)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unsupported --output: %s", format)
	}
}

func (p *printer) table(rows [][2]string) error {
	tw := tabwriter.NewWriter(p.out, 0, 2, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func (p *printer) success(format string, a ...any) {
	green.Fprintf(p.out, "✓ "+format+"\n", a...)
}

func (p *printer) warning(format string, a ...any) {
	yellow.Fprintf(p.out, "! "+format+"\n", a...)
}

func (p *printer) info(format string, a ...any) {
	cyan.Fprintf(p.out, format+"\n", a...)
}

func (p *printer) failure(format string, a ...any) {
	red.Fprintf(p.err, "✗ "+format+"\n", a...)
}

func healthBadge(s core.HealthStatus) string {
	switch s {
	case core.HealthOK:
		return green.Sprint(string(s))
	case core.HealthError:
		return red.Sprint(string(s))
	default:
		return yellow.Sprint(string(s))
	}
}

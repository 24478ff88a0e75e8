package pkg

import (
	"fmt"
	"io"

	"github.com/mitchellh/colorstring"
)

// Printer writes the human readable status lines of a build.
type Printer struct {
	out   io.Writer
	color colorstring.Colorize
}

// NewPrinter returns a Printer writing to out. Colors are stripped if noColor is set.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	return &Printer{
		out: out,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: noColor,
			Reset:   true,
		},
	}
}

func (p *Printer) Task(msg string) {
	fmt.Fprintf(p.out, p.color.Color("[blue][bold]==>[default] %s\n"), msg)
}

func (p *Printer) Subtask(msg string) {
	fmt.Fprintf(p.out, p.color.Color("[green][bold]  ->[reset] %s\n"), msg)
}

func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.out, p.color.Color("[red][bold]  ->[reset] %s\n"), msg)
}

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConsoleWriter turns zerolog's JSON events into short colored lines
type ConsoleWriter struct {
	out    io.Writer
	color  colorstring.Colorize
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer, noColor bool) *ConsoleWriter {
	return &ConsoleWriter{
		out: out,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: noColor,
			Reset:   true,
		},
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	// brackets in messages (i.e. shell tests) must not be read as color codes
	text := strings.Builder{}
	if task, ok := evt["task"].(string); ok {
		text.WriteString(task + ": ")
	}

	if evt["level"] == "error" {
		text.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}
	text.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		text.WriteString("\n")
		text.WriteString(errorDetails)
	}

	if os.Getenv("BUILDSYS_DEBUG") != "" {
		text.WriteString("\n")
		for name, value := range evt {
			text.WriteString(fmt.Sprintf("  %s: %+v\n", name, value))
		}
	}

	_, err = fmt.Fprintf(w.out, w.color.Color(w.buffer.String()+"%s[reset]\n"), text.String())
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("BUILDSYS_DEBUG") != "")
	}
}

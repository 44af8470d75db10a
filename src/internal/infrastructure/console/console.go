// Package console provides CLI output for the simulator commands.
// It is kept apart from the logger, which records what devices do.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

var (
	mu  sync.RWMutex
	out io.Writer = os.Stdout
)

// SetOutput redirects console output and returns a function restoring the previous writer.
func SetOutput(w io.Writer) (restore func()) {
	mu.Lock()
	prev := out
	out = w
	mu.Unlock()
	return func() {
		mu.Lock()
		out = prev
		mu.Unlock()
	}
}

func writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return out
}

// Print outputs to the console writer.
// nolint:fmt - Console output is legitimate for CLI tools
func Print(a ...interface{}) {
	fmt.Fprint(writer(), a...)
}

// Println outputs with a trailing newline.
// nolint:fmt - Console output is legitimate for CLI tools
func Println(a ...interface{}) {
	fmt.Fprintln(writer(), a...)
}

// Printf outputs formatted text.
// nolint:fmt - Console output is legitimate for CLI tools
func Printf(format string, a ...interface{}) {
	fmt.Fprintf(writer(), format, a...)
}

// Align is the alignment of a table column.
type Align int

// Column alignments.
const (
	AlignLeft Align = iota
	AlignRight
)

// RenderTable renders rows under headers. Short rows are padded, extra cells dropped.
func RenderTable(headers []string, rows [][]string, aligns ...Align) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// Table prints a rendered table followed by a newline.
func Table(headers []string, rows [][]string, aligns ...Align) {
	if s := RenderTable(headers, rows, aligns...); s != "" {
		Println(s)
	}
}

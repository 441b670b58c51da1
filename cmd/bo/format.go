package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// wantJSON reports whether output should be JSON: when --json is set or
// stdout is a file or pipe rather than a terminal.
func (a *app) wantJSON(out io.Writer) bool {
	if a.v.GetBool("json") {
		return true
	}
	if f, ok := out.(*os.File); ok {
		return !term.IsTerminal(int(f.Fd()))
	}
	return false
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func formatValue(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(2)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

type outputMode struct {
	json bool
	out  io.Writer
}

func (o outputMode) writer() io.Writer {
	if o.out != nil {
		return o.out
	}
	return os.Stdout
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Fprintln(o.writer(), string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.writer(), 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// relativeTime renders an RFC3339 timestamp as "3 minutes ago".
func relativeTime(raw string, now time.Time) string {
	if raw == "" {
		return "never"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func celsius(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "°C"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

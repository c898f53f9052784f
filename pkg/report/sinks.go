package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/eunmann/tabx/pkg/humanfmt"
)

// histogramWidth is the bar length of the fullest histogram bin.
const histogramWidth = 40

// TextSink renders aligned plain-text tables.
type TextSink struct {
	W io.Writer
}

// Write renders the whole report into memory first so a failure never
// leaves half a report on W.
func (s TextSink) Write(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	renderText(&buf, r)
	if _, err := s.W.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write text report: %w", err)
	}
	return nil
}

func renderText(buf *bytes.Buffer, r *Report) {
	fmt.Fprintf(buf, "tabx %s", r.Command)
	if r.RunID != "" {
		fmt.Fprintf(buf, "  run %s", r.RunID)
	}
	buf.WriteString("\n")
	fmt.Fprintf(buf, "sources: %s\n", strings.Join(r.Sources, ", "))

	if len(r.Stages) > 0 {
		section(buf, "ROWS", func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "stage\trows\tkept")
			first := int64(r.Stages[0].Rows)
			for _, st := range r.Stages {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", st.Stage, st.Rows, humanfmt.Percent(int64(st.Rows), first))
			}
		})
	}

	if len(r.Schema) > 0 {
		section(buf, "SCHEMA", func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "column\tkind\tnon-null\tmissing")
			for _, c := range r.Schema {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.Name, c.Kind, c.NonNull, c.Missing)
			}
		})
	}

	if len(r.Describe) > 0 {
		section(buf, "DESCRIBE", func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "column\tcount\tmean\tstd\tmin\t25%\t50%\t75%\tmax")
			for _, d := range r.Describe {
				std := "-"
				if d.Std != nil {
					std = humanfmt.Stat(*d.Std)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					d.Column, d.Count, humanfmt.Stat(d.Mean), std,
					humanfmt.Stat(d.Min), humanfmt.Stat(d.Q25), humanfmt.Stat(d.Q50),
					humanfmt.Stat(d.Q75), humanfmt.Stat(d.Max))
			}
		})
	}

	if g := r.Groups; g != nil {
		title := fmt.Sprintf("GROUP BY %s (%d groups, %s engine)", g.Key, len(g.Groups), g.Engine)
		section(buf, title, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, g.Key+"\t"+strings.Join(g.Stats, "\t"))
			for _, grp := range g.Groups {
				cells := make([]string, 0, len(g.Stats)+1)
				cells = append(cells, grp.Key.String())
				for _, name := range g.Stats {
					if v, ok := grp.Stats[name]; ok {
						cells = append(cells, humanfmt.Stat(v))
					} else {
						cells = append(cells, "-")
					}
				}
				fmt.Fprintln(tw, strings.Join(cells, "\t"))
			}
		})
	}

	if tv := r.TopValues; tv != nil {
		section(buf, "TOP "+tv.Column, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "value\tcount")
			for _, c := range tv.Counts {
				fmt.Fprintf(tw, "%s\t%d\n", c.Value, c.Count)
			}
		})
	}

	if tw := r.TopWords; tw != nil {
		section(buf, "TOP WORDS "+tw.Column, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "word\tcount")
			for _, c := range tw.Counts {
				fmt.Fprintf(w, "%s\t%d\n", c.Value, c.Count)
			}
		})
	}

	if h := r.Histogram; h != nil {
		section(buf, "HISTOGRAM "+h.Column, func(tw *tabwriter.Writer) {
			peak := 0
			for _, b := range h.Bins {
				peak = max(peak, b.Count)
			}
			fmt.Fprintln(tw, "from\tto\tcount\t")
			for _, b := range h.Bins {
				bar := 0
				if peak > 0 {
					bar = b.Count * histogramWidth / peak
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
					humanfmt.Stat(b.Lo), humanfmt.Stat(b.Hi), b.Count, strings.Repeat("#", bar))
			}
		})
	}

	if s := r.Head; s != nil {
		section(buf, "HEAD ("+strconv.Itoa(len(s.Rows))+" rows)", func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, strings.Join(s.Columns, "\t"))
			for _, row := range s.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = truncate(v.String(), 40)
					if v.Null {
						cells[i] = "NA"
					}
				}
				fmt.Fprintln(tw, strings.Join(cells, "\t"))
			}
		})
	}
}

func section(buf *bytes.Buffer, title string, body func(tw *tabwriter.Writer)) {
	fmt.Fprintf(buf, "\n%s\n", title)
	tw := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	body(tw)
	// Flushing into a bytes.Buffer cannot fail.
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// JSONSink renders the report as indented JSON.
type JSONSink struct {
	W io.Writer
}

func (s JSONSink) Write(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.W.Write(data); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/meshbvh"
)

var printer = message.NewPrinter(language.English)

// treeSummary describes the shape of a hierarchy.
type treeSummary struct {
	Nodes     int
	Leaves    int
	MinLeaf   uint32
	MaxLeaf   uint32
	MeanLeaf  float64
	MaxDepth  int
	Triangles uint32
}

func summarize(nodes []meshbvh.Node) treeSummary {
	s := treeSummary{Nodes: len(nodes)}
	if len(nodes) == 0 {
		return s
	}
	s.Triangles = nodes[0].Count()
	s.MinLeaf = ^uint32(0)

	type entry struct {
		node  uint32
		depth int
	}
	var total uint64
	stack := []entry{{0, 1}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(e.node) >= len(nodes) {
			continue
		}
		s.MaxDepth = max(s.MaxDepth, e.depth)
		n := nodes[e.node]
		if n.IsLeaf() {
			s.Leaves++
			s.MinLeaf = min(s.MinLeaf, n.Count())
			s.MaxLeaf = max(s.MaxLeaf, n.Count())
			total += uint64(n.Count())
			continue
		}
		stack = append(stack, entry{n.LeftChild, e.depth + 1}, entry{n.LeftChild + 1, e.depth + 1})
	}
	s.MeanLeaf = float64(total) / float64(s.Leaves)
	return s
}

func writeSummary(w io.Writer, bvh *meshbvh.MeshBVH, s treeSummary) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Property", "Value"})
	table.AppendBulk([][]string{
		{"Strategy", bvh.Strategy().String()},
		{"Triangles", printer.Sprintf("%d", bvh.TriangleCount())},
		{"Nodes", printer.Sprintf("%d", s.Nodes)},
		{"Leaves", printer.Sprintf("%d", s.Leaves)},
		{"Leaf size", fmt.Sprintf("%d .. %d (mean %.2f)", s.MinLeaf, s.MaxLeaf, s.MeanLeaf)},
		{"Depth", printer.Sprintf("%d", s.MaxDepth)},
		{"Levels", printer.Sprintf("%d", bvh.Levels())},
		{"Truncated", fmt.Sprintf("%t", bvh.Truncated())},
	})
	table.Render()
}

func writeStats(w io.Writer, st meshbvh.Stats) {
	builds := max(st.Builds, 1)
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Stage", "Calls", "Total", "Per build"})
	for _, stage := range st.Stages {
		table.Append([]string{
			stage.Name,
			printer.Sprintf("%d", stage.Calls),
			stage.Duration.Round(time.Microsecond).String(),
			(stage.Duration / time.Duration(builds)).Round(time.Microsecond).String(),
		})
	}
	table.SetFooter([]string{
		"TOTAL",
		printer.Sprintf("%d builds", st.Builds),
		st.Total.Round(time.Microsecond).String(),
		(st.Total / time.Duration(builds)).Round(time.Microsecond).String(),
	})
	table.Render()

	if secs := st.Total.Seconds(); secs > 0 {
		printer.Fprintf(w, "%.0f triangles/s\n", float64(st.Triangles)/secs)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graphstore"
	"github.com/samcharles93/graft/pkg/gcf"
)

type opcodeReport struct {
	Index      int    `json:"index"`
	Builtin    string `json:"builtin"`
	CustomCode string `json:"custom_code,omitempty"`
}

type tensorReport struct {
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Shape       []int32   `json:"shape"`
	Buffer      int32     `json:"buffer"`
	BufferBytes int       `json:"buffer_bytes"`
	Scale       []float32 `json:"scale,omitempty"`
	ZeroPoint   []int64   `json:"zero_point,omitempty"`
}

type operatorReport struct {
	Index      int     `json:"index"`
	Kind       string  `json:"kind"`
	CustomCode string  `json:"custom_code,omitempty"`
	Inputs     []int32 `json:"inputs"`
	Outputs    []int32 `json:"outputs"`
}

type sectionReport struct {
	Type    string `json:"type"`
	Version uint32 `json:"version"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type inspectReport struct {
	Path        string           `json:"path"`
	ID          string           `json:"id,omitempty"`
	ParentID    string           `json:"parent_id,omitempty"`
	Producer    string           `json:"producer,omitempty"`
	Description string           `json:"description,omitempty"`
	Subgraph    string           `json:"subgraph"`
	Sections    []sectionReport  `json:"sections,omitempty"`
	Opcodes     []opcodeReport   `json:"opcodes"`
	Tensors     []tensorReport   `json:"tensors,omitempty"`
	Operators   []operatorReport `json:"operators"`
	Inputs      []int32          `json:"inputs"`
	Outputs     []int32          `json:"outputs"`
}

func inspectCmd() *cli.Command {
	var (
		modelPath    string
		asJSON       bool
		showSections bool
		showTensors  bool
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .gcf graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to .gcf file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensors", Destination: &showTensors},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := graphstore.Load(modelPath)
			if err != nil {
				return err
			}
			r := buildReport(modelPath, m, showTensors || asJSON, tensorFilter)
			if showSections {
				if r.Sections, err = readSections(modelPath); err != nil {
					return err
				}
			}

			w := cmd.Root().Writer
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(w, r)
			return nil
		},
	}
}

func readSections(path string) ([]sectionReport, error) {
	f, err := gcf.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make([]sectionReport, 0, len(f.Sections))
	for _, s := range f.Sections {
		out = append(out, sectionReport{
			Type:    gcf.SectionType(s.Type).String(),
			Version: s.Version,
			Offset:  s.Offset,
			Size:    s.Size,
		})
	}
	return out, nil
}

func buildReport(path string, m *graph.Model, withTensors bool, filter string) inspectReport {
	r := inspectReport{
		Path:        path,
		Producer:    m.Metadata.Producer,
		Description: m.Metadata.Description,
		Subgraph:    m.Subgraph.Name,
		Inputs:      indices(m.Subgraph.Inputs),
		Outputs:     indices(m.Subgraph.Outputs),
	}
	if m.Metadata.ID != uuid.Nil {
		r.ID = m.Metadata.ID.String()
	}
	if m.Metadata.ParentID != uuid.Nil {
		r.ParentID = m.Metadata.ParentID.String()
	}

	for i, oc := range m.OperatorCodes {
		r.Opcodes = append(r.Opcodes, opcodeReport{Index: i, Builtin: oc.Builtin.String(), CustomCode: oc.CustomCode})
	}
	for i := range m.Subgraph.Operators {
		op := m.Operator(graph.OperatorIndex(i))
		oc := m.OperatorCode(op.Opcode)
		r.Operators = append(r.Operators, operatorReport{
			Index:      i,
			Kind:       oc.Builtin.String(),
			CustomCode: oc.CustomCode,
			Inputs:     indices(op.Inputs),
			Outputs:    indices(op.Outputs),
		})
	}
	if !withTensors {
		return r
	}
	for i := range m.Subgraph.Tensors {
		t := m.Tensor(graph.TensorIndex(i))
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		tr := tensorReport{
			Index:       i,
			Name:        t.Name,
			Type:        t.Type.String(),
			Shape:       t.Shape,
			Buffer:      int32(t.Buffer),
			BufferBytes: len(m.Buffer(t.Buffer).Data),
		}
		if t.Quantization != nil {
			tr.Scale = t.Quantization.Scale
			tr.ZeroPoint = t.Quantization.ZeroPoint
		}
		r.Tensors = append(r.Tensors, tr)
	}
	return r
}

func indices(in []graph.TensorIndex) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func printReport(w io.Writer, r inspectReport) {
	_, _ = fmt.Fprintf(w, "GCF Inspect: %s\n", r.Path)

	section(w, "Metadata")
	row(w, "id", r.ID)
	row(w, "parent_id", r.ParentID)
	row(w, "producer", r.Producer)
	row(w, "description", r.Description)
	row(w, "subgraph", r.Subgraph)
	row(w, "inputs", fmt.Sprint(r.Inputs))
	row(w, "outputs", fmt.Sprint(r.Outputs))

	if len(r.Sections) > 0 {
		section(w, "Sections")
		for _, s := range r.Sections {
			_, _ = fmt.Fprintf(w, "%-16s v%-2d off=%-10d size=%d\n", s.Type, s.Version, s.Offset, s.Size)
		}
	}

	section(w, "Operator Codes")
	for _, oc := range r.Opcodes {
		_, _ = fmt.Fprintf(w, "%3d  %s%s\n", oc.Index, oc.Builtin, customSuffix(oc.CustomCode))
	}

	section(w, "Operators")
	for _, op := range r.Operators {
		_, _ = fmt.Fprintf(w, "%3d  %-20s in=%v out=%v\n", op.Index, op.Kind+customSuffix(op.CustomCode), op.Inputs, op.Outputs)
	}

	if len(r.Tensors) > 0 {
		section(w, "Tensors")
		for _, t := range r.Tensors {
			_, _ = fmt.Fprintf(w, "%3d  %-32s %-7s %v buf=%d (%d B)", t.Index, t.Name, t.Type, t.Shape, t.Buffer, t.BufferBytes)
			if len(t.Scale) > 0 {
				_, _ = fmt.Fprintf(w, " scale=%g zp=%d", t.Scale[0], t.ZeroPoint[0])
			}
			_, _ = fmt.Fprintln(w)
		}
	}
}

func customSuffix(code string) string {
	if code == "" {
		return ""
	}
	return "(" + code + ")"
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %s\n", label+":", value)
}

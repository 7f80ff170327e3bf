// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package shell

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorBorder  = lipgloss.Color("#414868")
	colorAccent  = lipgloss.Color("#7aa2f7")
	colorSuccess = lipgloss.Color("#9ece6a")
	colorWarning = lipgloss.Color("#e0af68")
	colorError   = lipgloss.Color("#f7768e")
	colorDim     = lipgloss.Color("#565f89")
)

type styles struct {
	title   lipgloss.Style
	panel   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	error   lipgloss.Style
	dim     lipgloss.Style
}

// newStyles binds the styles to w so colors are dropped when w is not a
// terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorAccent),
		panel:   r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 2),
		header:  r.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		border:  r.NewStyle().Foreground(colorBorder),
		success: r.NewStyle().Foreground(colorSuccess),
		warning: r.NewStyle().Foreground(colorWarning),
		error:   r.NewStyle().Foreground(colorError).Bold(true),
		dim:     r.NewStyle().Foreground(colorDim),
	}
}

func (s styles) banner(address string) string {
	return s.panel.Render(s.title.Render("Modbus TCP CLI Tool") + "\n" + s.dim.Render("Connected to "+address))
}

// registerTable renders values read from address onwards.
func (s styles) registerTable(address uint16, values []uint16) string {
	rows := make([][]string, 0, len(values))
	for i, v := range values {
		rows = append(rows, []string{
			strconv.Itoa(i),
			strconv.Itoa(int(address) + i),
			strconv.Itoa(int(v)),
			fmt.Sprintf("0x%04X", v),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers("Offset", "Address", "Value (Dec)", "Value (Hex)").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		}).
		String()
}

func (s styles) describe(err error) string {
	m := Describe(err)
	out := s.error.Render("Error: " + m.Message)
	if m.Reason != "" {
		out += "\n  " + s.dim.Render("Reason: "+m.Reason)
	}
	if m.Hint != "" {
		out += "\n  " + s.dim.Render("Hint: "+m.Hint)
	}
	return out
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the livecode CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Prompt    lipgloss.Style
	CodeBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Prompt:    lipgloss.NewStyle().Foreground(ColorTealPrimary),
	CodeBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Mode selects between styled and plain output.
type Mode int

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = iota

	// ModePlain writes prefixed plain text suitable for pipes and logs.
	ModePlain
)

// DetectMode returns ModeRich when f is a terminal and NO_COLOR is unset.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeRich
	}
	return ModePlain
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes styled lines.
//
// # Thread Safety
//
// Safe for concurrent use; each call writes whole lines under a mutex.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode

	// midLine is set while streamed text has not ended with a newline.
	midLine bool
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
	fmt.Fprintln(p.w, s)
}

func (p *Printer) status(icon Icon, style lipgloss.Style, plainPrefix, text string) {
	if p.mode == ModePlain {
		p.line(plainPrefix + text)
		return
	}
	p.line(style.Render(string(icon)) + " " + text)
}

// Title prints a styled title. Plain mode prints the text as is.
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		p.line(text)
		return
	}
	p.line(Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, Styles.Success, "OK: ", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, Styles.Warning, "WARN: ", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status(IconError, Styles.Error, "ERROR: ", text)
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModePlain {
		p.line(text)
		return
	}
	p.line(Styles.Muted.Render("│") + " " + text)
}

// Text prints text unstyled in both modes.
func (p *Printer) Text(text string) {
	p.line(text)
}

// Muted prints secondary text. Plain mode prefixes it with "# ".
func (p *Printer) Muted(text string) {
	if p.mode == ModePlain {
		p.line("# " + text)
		return
	}
	p.line(Styles.Muted.Render(text))
}

// Step prints a progress line such as a tool call.
func (p *Printer) Step(text string) {
	if p.mode == ModePlain {
		p.line("-> " + text)
		return
	}
	p.line(Styles.Muted.Render(string(IconArrow) + " " + text))
}

// Code prints a code listing, boxed in rich mode.
func (p *Printer) Code(title, code string) {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		code = "(empty)"
	}
	if p.mode == ModePlain {
		p.line("--- " + title + " ---\n" + code + "\n---")
		return
	}
	p.line(Styles.CodeBox.Render(Styles.Highlight.Render(title) + "\n" + code))
}

// Stream writes a chunk of streamed text without a newline.
func (p *Printer) Stream(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, text)
	p.midLine = !strings.HasSuffix(text, "\n")
}

// EndStream terminates streamed text with a newline if needed.
func (p *Printer) EndStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

// Prompt writes the input prompt without a newline. Plain mode writes
// nothing.
func (p *Printer) Prompt(text string) {
	if p.mode == ModePlain {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, Styles.Prompt.Render(text))
}

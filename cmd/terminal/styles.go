package main

import "github.com/charmbracelet/lipgloss"

type styles struct {
	header    lipgloss.Style
	iteration lipgloss.Style
	answer    lipgloss.Style
	err       lipgloss.Style
	prompt    lipgloss.Style
	inactive  lipgloss.Style
}

func newStyles() styles {
	return styles{
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		iteration: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		answer:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		inactive:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

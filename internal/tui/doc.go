// Package tui implements the SAIGE terminal console.
//
// It is built with Charmbracelet's BubbleTea, Lipgloss, Bubbles and Glamour, over the same session
// controller as the web console.
//
// Component architecture:
//
//	model.go   root model, message routing, Init/Update
//	target.go  render target feeding a streaming reply into the program
//	view.go    header, tab bodies and footer
//	theme.go   centralized color and style definitions
package tui

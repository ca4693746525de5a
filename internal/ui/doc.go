// Package ui renders command output for terminals. Styles degrade to plain
// text when the writer is not a terminal.
package ui

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// labelColor highlights quality labels consistently across commands.
func labelColor(label string) string {
	switch label {
	case "high":
		return colorize(colorGreen, label)
	case "medium":
		return colorize(colorYellow, label)
	case "low":
		return colorize(colorRed, label)
	}
	return label
}

// printProba writes one "class  0.123  ####" row per class.
func printProba(w io.Writer, classes []string, proba []float64) {
	if len(proba) == 0 {
		fmt.Fprintln(w, "  (model does not report probabilities)")
		return
	}
	for i, p := range proba {
		name := fmt.Sprintf("#%d", i)
		if i < len(classes) {
			name = classes[i]
		}
		bar := strings.Repeat("█", int(p*20+0.5))
		fmt.Fprintf(w, "  %-8s %.3f %s\n", name, p, colorize(colorCyan, bar))
	}
}

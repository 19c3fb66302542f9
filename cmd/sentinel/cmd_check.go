// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/verify"
)

// runCheckCommand runs one integrity check over the whole ledger.
//
// # Description
//
// Wires the pipeline, checks every record, repairs what it can, and
// prints the aggregate report.
//
// # Outputs
//
// Prints the report to stdout.
//
// # Limitations
//
//   - Exits 1 when the score breaches the configured threshold.
//   - Exits 2 on config or storage failures.
func runCheckCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	p, err := buildPipeline("manual", nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(exitError)
	}
	defer p.close()

	rep, err := p.scheduler.RunImmediate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check failed: %v\n", err)
		os.Exit(exitError)
	}

	if checkJSONOutput {
		outputReportJSON(rep)
	} else {
		outputReport(rep, p.cfg.Check.AlertThreshold)
	}

	if !rep.Healthy(p.cfg.Check.AlertThreshold) {
		os.Exit(exitBreach)
	}
}

// outputReportJSON prints the report as indented JSON for scripting.
func outputReportJSON(rep report.Report) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(exitError)
	}
}

// outputReport prints the human-readable boxed report.
func outputReport(rep report.Report, threshold int) {
	width := 70

	printBoxTop(width)
	printBoxCenter("SENTINEL INTEGRITY REPORT", width)
	printBoxCenter(fmt.Sprintf("Run: %s", rep.ID), width)
	printBoxSeparator(width)

	scoreColor := colorGreen
	if !rep.Healthy(threshold) {
		scoreColor = colorRed
	}
	printBoxLine(fmt.Sprintf("Score: %s%d/100%s  (threshold %d)",
		scoreColor, rep.Score, colorReset, threshold), width)
	printBoxLine(fmt.Sprintf("Checked: %d  verified: %d  repaired: %d  compromised: %d",
		rep.Checked, rep.Verified, rep.Repaired, rep.Compromised), width)
	printBoxLine(fmt.Sprintf("Duration: %v", rep.Duration.Round(time.Millisecond)), width)

	flagged := flaggedDetails(rep)
	if len(flagged) > 0 {
		printBoxSeparator(width)
		printBoxLine("Findings:", width)
		for _, d := range flagged {
			icon := colorGreen + "✔" + colorReset
			if d.Status == verify.StatusCompromised {
				icon = colorRed + "✘" + colorReset
			}
			printBoxLine(fmt.Sprintf("  %s %s [%s]", icon, d.Subject.String(),
				strings.ToUpper(d.Status.String())), width)
			for _, is := range d.Issues {
				state := "repaired"
				if !is.Repaired {
					state = "unrepaired"
				}
				printBoxLine(fmt.Sprintf("      %s (%s, %s)", is.Kind, is.Severity, state), width)
			}
		}
	}

	printBoxBottom(width)
}

// flaggedDetails returns the details that found anything.
func flaggedDetails(rep report.Report) []verify.Verification {
	var out []verify.Verification
	for _, d := range rep.Details {
		if len(d.Issues) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// BOX DRAWING HELPERS
// =============================================================================

const (
	boxTopLeft     = "╔"
	boxTopRight    = "╗"
	boxBottomLeft  = "╚"
	boxBottomRight = "╝"
	boxHorizontal  = "═"
	boxVertical    = "║"
	boxLeftT       = "╠"
	boxRightT      = "╣"

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

func printBoxTop(width int) {
	fmt.Print(boxTopLeft)
	for i := 0; i < width-2; i++ {
		fmt.Print(boxHorizontal)
	}
	fmt.Println(boxTopRight)
}

func printBoxBottom(width int) {
	fmt.Print(boxBottomLeft)
	for i := 0; i < width-2; i++ {
		fmt.Print(boxHorizontal)
	}
	fmt.Println(boxBottomRight)
}

func printBoxSeparator(width int) {
	fmt.Print(boxLeftT)
	for i := 0; i < width-2; i++ {
		fmt.Print(boxHorizontal)
	}
	fmt.Println(boxRightT)
}

func printBoxLine(content string, width int) {
	visibleLen := visibleLength(content)
	padding := width - 4 - visibleLen
	if padding < 0 {
		padding = 0
	}
	fmt.Printf("%s %s%s %s\n", boxVertical, content, strings.Repeat(" ", padding), boxVertical)
}

func printBoxCenter(content string, width int) {
	visibleLen := visibleLength(content)
	totalPadding := width - 4 - visibleLen
	leftPad := totalPadding / 2
	rightPad := totalPadding - leftPad
	fmt.Printf("%s %s%s%s %s\n", boxVertical,
		strings.Repeat(" ", leftPad), content, strings.Repeat(" ", rightPad), boxVertical)
}

// visibleLength returns the visible length of a string, excluding ANSI
// escape codes.
func visibleLength(s string) int {
	inEscape := false
	visible := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		visible++
	}
	return visible
}

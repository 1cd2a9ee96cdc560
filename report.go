package stackz

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// notReported is the text of a report channel nobody has published to yet.
const notReported = "<not reported>"

// Report is an immutable rendering of a span tree.
type Report struct {
	CaptureTime time.Time
	Text        string
	Root        Label
	Context     ContextID
}

// emptyReport is the initial value of a report channel. It was never
// captured, so CaptureTime is zero.
func emptyReport() Report {
	return Report{Text: notReported}
}

// String prefixes the text with the age of the capture.
func (r Report) String() string {
	if r.CaptureTime.IsZero() {
		return "[never captured]\n" + r.Text
	}
	return fmt.Sprintf("[captured %v ago]\n%s", time.Since(r.CaptureTime), r.Text)
}

// formatLabel quotes labels that a plain report line cannot carry.
func formatLabel(label Label) string {
	if label == "" ||
		strings.HasPrefix(label, " ") || strings.HasSuffix(label, " ") ||
		strings.HasPrefix(label, `"`) || strings.HasPrefix(label, "[") ||
		strings.IndexFunc(label, func(r rune) bool { return !unicode.IsPrint(r) }) >= 0 {
		return strconv.Quote(label)
	}
	return label
}

func parseLabel(s string) (Label, error) {
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	return strconv.Unquote(s)
}

// ReportNode is one line of a parsed report.
//
//nolint:govet // Field order follows the rendered line
type ReportNode struct {
	Children []*ReportNode
	Label    Label
	Elapsed  time.Duration
	Slow     bool
}

// ParsedReport is the structure recovered from report text.
type ParsedReport struct {
	Root     *ReportNode
	Detached []*ReportNode
}

// ParseReport rebuilds the span structure from the text of a report.
// Depth is recovered from the two-space indentation.
func ParseReport(text string) (*ParsedReport, error) {
	out := &ParsedReport{}
	var stack []*ReportNode
	detached := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[Detached ") {
			detached = true
			stack = stack[:0]
			continue
		}

		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		if indent%2 != 0 {
			return nil, fmt.Errorf("line %d: odd indentation %d", lineNo, indent)
		}
		depth := indent / 2

		node, err := parseReportLine(trimmed)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		switch {
		case !detached && depth == 0:
			if out.Root != nil {
				return nil, fmt.Errorf("line %d: second root %q", lineNo, node.Label)
			}
			out.Root = node
			stack = append(stack[:0], node)
		case detached && depth == 1:
			out.Detached = append(out.Detached, node)
			stack = append(stack[:0], nil, node)
		default:
			if depth > len(stack) || depth == 0 || stack[depth-1] == nil {
				return nil, fmt.Errorf("line %d: span %q has no parent at depth %d", lineNo, node.Label, depth)
			}
			parent := stack[depth-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack[:depth], node)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if out.Root == nil {
		return nil, errors.New("report has no root span")
	}
	return out, nil
}

func parseReportLine(s string) (*ReportNode, error) {
	open := strings.LastIndex(s, " [")
	if open < 0 || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed span %q", s)
	}
	label, err := parseLabel(s[:open])
	if err != nil {
		return nil, fmt.Errorf("label %s: %w", s[:open], err)
	}
	node := &ReportNode{Label: label}
	elapsed := s[open+2 : len(s)-1]
	if strings.HasPrefix(elapsed, slowMarker) {
		node.Slow = true
		elapsed = strings.TrimPrefix(elapsed, slowMarker)
	}
	d, err := time.ParseDuration(elapsed)
	if err != nil {
		return nil, fmt.Errorf("span %q: %w", node.Label, err)
	}
	node.Elapsed = d
	return node, nil
}

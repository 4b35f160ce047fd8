package breadcrumb

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// annotationPattern matches one AI_<FIELD>: value line behind any common comment leader.
var annotationPattern = regexp.MustCompile(
	`^\s*(?://+|#+|--|;+|/\*+|\*+|<!--)?\s*AI_([A-Z_]+)\s*:\s*(.*?)\s*(?:\*/|-->)?\s*$`)

// timeLayouts are the ISO-8601 forms accepted for AI_CLAIMED_AT and AI_TIMEOUT.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

type rawField struct {
	name  string
	value string
	line  int
}

// Parse extracts every annotation block from r. file is recorded on each breadcrumb and
// warning. Problems with individual fields never fail the parse; they are returned as
// warnings and the breadcrumb keeps whatever was given.
func Parse(file string, r io.Reader) (*ParseResult, error) {
	result := &ParseResult{File: file}

	scanner := bufio.NewScanner(r)
	// Any line of a file ScanFile accepts must fit.
	scanner.Buffer(make([]byte, 0, 64*1024), maxFileSize+1)

	var block []rawField
	flush := func() {
		if len(block) == 0 {
			return
		}
		bc, warnings := buildBreadcrumb(file, block)
		result.Warnings = append(result.Warnings, warnings...)
		if bc != nil {
			result.Breadcrumbs = append(result.Breadcrumbs, bc)
		}
		block = nil
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		m := annotationPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			flush()
			continue
		}
		block = append(block, rawField{name: m[1], value: m[2], line: lineNo})
	}
	flush()

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("scan %s: %w", file, err)
	}
	return result, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(file, content string) (*ParseResult, error) {
	return Parse(file, strings.NewReader(content))
}

func buildBreadcrumb(file string, block []rawField) (*Breadcrumb, []Warning) {
	bc := &Breadcrumb{
		File:     file,
		Line:     block[0].line,
		EndLine:  block[len(block)-1].line,
		Priority: DefaultPriority,
	}

	var (
		warnings []Warning
		checks   fieldChecks
	)
	warn := func(line int, field, msg string) {
		warnings = append(warnings, Warning{File: file, Line: line, Field: field, Message: msg})
	}
	seen := make(map[string]bool, len(block))

	for _, f := range block {
		field := "AI_" + f.name
		if seen[f.name] {
			warn(f.line, field, "duplicate field, last value wins")
		}
		seen[f.name] = true

		switch f.name {
		case "PHASE":
			bc.Phase = f.value
		case "STATUS":
			bc.Status = Status(f.value)
			checks.Status = f.value
		case "PATTERN":
			bc.Pattern = f.value
		case "STRATEGY":
			bc.Strategy = f.value
		case "BREADCRUMB":
			bc.Marker = f.value
		case "REF":
			bc.Ref = f.value
		case "ASSIGNED_TO":
			bc.AssignedTo = f.value
		case "COMPLEXITY":
			bc.Complexity = Complexity(f.value)
			checks.Complexity = f.value
		case "PRIORITY":
			n, err := strconv.Atoi(f.value)
			if err != nil {
				warn(f.line, field, fmt.Sprintf("not an integer: %q", f.value))
				continue
			}
			bc.Priority = n
			checks.Priority = &n
		case "RETRY_COUNT":
			n, err := strconv.Atoi(f.value)
			if err != nil {
				warn(f.line, field, fmt.Sprintf("not an integer: %q", f.value))
				continue
			}
			bc.RetryCount = n
			checks.RetryCount = &n
		case "MAX_RETRIES":
			n, err := strconv.Atoi(f.value)
			if err != nil {
				warn(f.line, field, fmt.Sprintf("not an integer: %q", f.value))
				continue
			}
			bc.MaxRetries = n
			checks.MaxRetries = &n
		case "DEPENDENCIES":
			bc.Dependencies = splitPhases(f.value)
		case "BLOCKS":
			bc.Blocks = splitPhases(f.value)
		case "CLAIMED_AT":
			t, ok := parseTime(f.value)
			if !ok {
				warn(f.line, field, fmt.Sprintf("not an ISO-8601 timestamp: %q", f.value))
				continue
			}
			bc.ClaimedAt = &t
		case "TIMEOUT":
			t, ok := parseTime(f.value)
			if !ok {
				warn(f.line, field, fmt.Sprintf("not an ISO-8601 timestamp: %q", f.value))
				continue
			}
			bc.Timeout = &t
		default:
			warn(f.line, field, "unknown field")
		}
	}

	if bc.Phase == "" {
		warn(bc.Line, "AI_PHASE", "missing required field, block skipped")
		return nil, warnings
	}
	if !seen["STATUS"] {
		warn(bc.Line, "AI_STATUS", "missing required field")
	}
	for _, w := range checks.validate() {
		warn(lineOf(block, w.field), w.field, w.message)
	}

	return bc, warnings
}

// splitPhases splits a comma-separated phase list, dropping blanks and duplicates.
func splitPhases(v string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func lineOf(block []rawField, field string) int {
	name := strings.TrimPrefix(field, "AI_")
	for i := len(block) - 1; i >= 0; i-- {
		if block[i].name == name {
			return block[i].line
		}
	}
	return block[0].line
}

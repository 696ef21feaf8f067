// Package toolresult implements the Tool-Result Processor (§4.4):
// per-tool truncation thresholds and structured recovery sections so a
// truncated result still tells the LLM how to retrieve what was elided.
package toolresult

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MaxTruncatedChars is the maximum preserved prefix before a recovery
// section is appended (§4.4, §12).
const MaxTruncatedChars = 2000

// secretRedaction is the text substituted for a matched secret pattern.
const secretRedaction = "[REDACTED]"

// builtinSecretPatterns detects common credential shapes (API keys,
// bearer tokens, AWS keys, generic password/secret/token assignments,
// PEM private keys) in a tool result before it reaches the Memory Graph
// or the LLM's next turn.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// redactSecrets applies builtinSecretPatterns to content, returning the
// redacted text and whether anything was replaced.
func redactSecrets(content string) (string, bool) {
	if content == "" {
		return content, false
	}
	redacted := false
	for _, re := range builtinSecretPatterns {
		if re.MatchString(content) {
			redacted = true
			content = re.ReplaceAllString(content, secretRedaction)
		}
	}
	return content, redacted
}

// recoveryThresholds holds the per-tool-class thresholds adopted
// unchanged from original_source/memory/tool_result_processor.py, per
// DESIGN.md's Open Question #2 decision.
var recoveryThresholds = map[string]int{
	"read_file":     3500,
	"grep_content":  3500,
	"execute_shell": 3500,
	"web_fetch":     5000,
	"web_search":    4000,
	"glob_files":    3500,
}

const defaultRecoveryThreshold = 3500

// defaultBypassTools are never truncated regardless of size.
var defaultBypassTools = map[string]bool{"manage_todo_list": true}

// Processor implements §4.4's bypass/threshold/truncate/recover pipeline.
type Processor struct {
	bypassTools map[string]bool
	thresholds  map[string]int
}

// New constructs a Processor. extraBypass adds tool names (beyond the
// built-in default) that should never be truncated.
func New(extraBypass ...string) *Processor {
	bypass := make(map[string]bool, len(defaultBypassTools)+len(extraBypass))
	for k := range defaultBypassTools {
		bypass[k] = true
	}
	for _, t := range extraBypass {
		bypass[t] = true
	}
	return &Processor{bypassTools: bypass, thresholds: recoveryThresholds}
}

// Process applies §4.4 to one raw tool result: secrets are redacted
// first regardless of tool or size, then the bypass/threshold/truncate/
// recover pipeline runs on the redacted text. Returns the resulting
// text and whether it was modified from raw.
func (p *Processor) Process(toolName, raw string, toolContext map[string]string) (string, bool) {
	content, redacted := redactSecrets(raw)

	if p.bypassTools[toolName] {
		return content, redacted
	}
	threshold := p.thresholds[toolName]
	if threshold == 0 {
		threshold = defaultRecoveryThreshold
	}
	if len(content) <= threshold {
		return content, redacted
	}

	meta := extractMetadata(toolName, content, toolContext)

	truncated := content
	if len(content) > MaxTruncatedChars {
		truncated = content[:MaxTruncatedChars]
		truncated += fmt.Sprintf("\n\n[... %d characters truncated ...]", len(content)-MaxTruncatedChars)
	}

	if recovery := formatRecoverySection(meta, toolContext); recovery != "" {
		truncated = truncated + "\n\n" + recovery
	}
	return truncated, true
}

// EstimateTokens approximates a token count at ~3.5 chars/token (§4.4);
// no real tokenizer is required.
func EstimateTokens(text string) int {
	return int(float64(len(text)) / 3.5)
}

// metadata carries the tool-specific fields extracted for recovery
// section formatting (§12's six concrete tool classes plus a default).
type metadata struct {
	toolName  string
	charCount int
	lineCount int

	// read_file
	filename      string
	contentType   string
	structure     []codeDef

	// grep_content
	matchCount      int
	fileCounts      []fileCount
	pattern         string

	// execute_shell
	command string

	// web_search
	query       string
	resultCount int

	// web_fetch
	url   string
	title string

	// glob_files
	fileCount      int
	commonPrefixes []string
}

type codeDef struct {
	Type string
	Name string
	Line int
}

type fileCount struct {
	Path  string
	Count int
}

func extractMetadata(toolName, result string, ctx map[string]string) metadata {
	lines := strings.Split(result, "\n")
	m := metadata{toolName: toolName, charCount: len(result), lineCount: len(lines)}

	switch toolName {
	case "read_file":
		extractReadFileMetadata(&m, result, ctx)
	case "grep_content":
		extractGrepMetadata(&m, result, ctx)
	case "execute_shell":
		m.command = ctx["command"]
	case "web_search":
		extractWebSearchMetadata(&m, result, ctx)
	case "web_fetch":
		extractWebFetchMetadata(&m, result, ctx)
	case "glob_files":
		extractGlobMetadata(&m, result, ctx)
	}
	return m
}

var logMarker = regexp.MustCompile(`\b(ERROR|WARNING|INFO|DEBUG)\b`)

func extractReadFileMetadata(m *metadata, result string, ctx map[string]string) {
	m.filename = ctx["filename"]
	if m.filename != "" {
		if lang := detectLanguage(m.filename); lang != "" {
			m.contentType = "code"
			m.structure = extractDefinitions(result, lang, 20)
			return
		}
	}
	switch {
	case logMarker.MatchString(result):
		m.contentType = "log"
	case strings.HasPrefix(strings.TrimSpace(result), "{"), strings.HasPrefix(strings.TrimSpace(result), "["):
		m.contentType = "json"
	default:
		m.contentType = "text"
	}
}

var grepLine = regexp.MustCompile(`^([^:]+):(\d+):`)

func extractGrepMetadata(m *metadata, result string, ctx map[string]string) {
	m.pattern = ctx["pattern"]
	counts := map[string]int{}
	for _, line := range strings.Split(result, "\n") {
		match := grepLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		counts[match[1]]++
		m.matchCount++
	}
	m.fileCounts = topFileCounts(counts, 5)
}

func extractWebSearchMetadata(m *metadata, result string, ctx map[string]string) {
	m.query = ctx["query"]
	m.resultCount = strings.Count(result, "---") + 1
}

var markdownTitle = regexp.MustCompile(`(?m)^#\s+(.+)$`)

func extractWebFetchMetadata(m *metadata, result string, ctx map[string]string) {
	m.url = ctx["url"]
	var payload struct {
		Title  string `json:"title"`
		Output string `json:"output"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err == nil {
		m.title = payload.Title
		m.charCount = len(payload.Output)
		return
	}
	if match := markdownTitle.FindStringSubmatch(result); match != nil {
		m.title = match[1]
	}
}

func extractGlobMetadata(m *metadata, result string, ctx map[string]string) {
	m.pattern = ctx["pattern"]
	var files []string
	for _, line := range strings.Split(result, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	m.fileCount = len(files)
	if len(files) == 0 {
		return
	}
	prefixCounts := map[string]int{}
	for _, f := range files {
		if idx := strings.LastIndex(f, "/"); idx >= 0 {
			prefixCounts[f[:idx]]++
		}
	}
	var top []fileCount
	for prefix, count := range prefixCounts {
		top = append(top, fileCount{Path: prefix, Count: count})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	for i, t := range top {
		if i >= 3 {
			break
		}
		m.commonPrefixes = append(m.commonPrefixes, t.Path)
	}
}

func topFileCounts(counts map[string]int, limit int) []fileCount {
	var out []fileCount
	for path, count := range counts {
		out = append(out, fileCount{Path: path, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func formatRecoverySection(m metadata, ctx map[string]string) string {
	switch m.toolName {
	case "read_file":
		return formatRecoveryReadFile(m, ctx)
	case "grep_content":
		return formatRecoveryGrep(m, ctx)
	case "execute_shell":
		return formatRecoveryShell(m, ctx)
	case "web_search":
		return formatRecoveryWebSearch(m, ctx)
	case "web_fetch":
		return formatRecoveryWebFetch(m, ctx)
	case "glob_files":
		return formatRecoveryGlob(m, ctx)
	default:
		return formatRecoveryDefault(m)
	}
}

func formatRecoveryReadFile(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	filename := firstNonEmpty(m.filename, ctx["filename"], "unknown")
	fmt.Fprintf(&b, "File: %s | %d lines, %d chars\n\n", filename, m.lineCount, m.charCount)

	if m.contentType == "code" && len(m.structure) > 0 {
		b.WriteString("Structure:\n")
		shown := m.structure
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, def := range shown {
			fmt.Fprintf(&b, "  - %s %s (line %d)\n", def.Type, def.Name, def.Line)
		}
		if len(m.structure) > 10 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(m.structure)-10)
		}
		b.WriteString("\n")
	}

	b.WriteString("Commands:\n")
	if len(m.structure) > 0 {
		fmt.Fprintf(&b, "  • grep_content(pattern=%q, path=%q)\n", m.structure[0].Name, filename)
	} else {
		fmt.Fprintf(&b, "  • grep_content(pattern=\"keyword\", path=%q)\n", filename)
	}
	fmt.Fprintf(&b, "  • shell(command=\"sed -n '1,50p' %s\")  # First 50 lines\n", filename)
	fmt.Fprintf(&b, "  • shell(command=\"sed -n '100,150p' %s\")  # Lines 100-150", filename)
	return b.String()
}

func formatRecoveryGrep(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	shown := m.matchCount
	if shown > 50 {
		shown = 50
	}
	fmt.Fprintf(&b, "Searched: %d+ files | %d total matches | Showing first ~%d\n\n", len(m.fileCounts), m.matchCount, shown)

	if len(m.fileCounts) > 0 {
		b.WriteString("Top files by matches:\n")
		for _, fc := range m.fileCounts {
			fmt.Fprintf(&b, "  - %s: %d matches\n", fc.Path, fc.Count)
		}
		b.WriteString("\n")
	}

	pattern := firstNonEmpty(m.pattern, ctx["pattern"], "pattern")
	b.WriteString("Commands:\n")
	if len(m.fileCounts) > 0 {
		fmt.Fprintf(&b, "  • grep_content(pattern=%q, file_pattern=%q, mode=\"with_context\")\n", pattern, m.fileCounts[0].Path)
	}
	fmt.Fprintf(&b, "  • grep_content(pattern=%q, max_matches_per_file=3)", pattern)
	return b.String()
}

func formatRecoveryShell(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	fmt.Fprintf(&b, "Output: %d lines, %d chars\n\n", m.lineCount, m.charCount)

	cmd := firstNonEmpty(m.command, ctx["command"], "command")
	cmdEscaped := strings.ReplaceAll(cmd, "'", `'"'"'`)
	b.WriteString("Commands:\n")
	fmt.Fprintf(&b, "  • shell(command=\"%s | head -n 50\")\n", cmdEscaped)
	fmt.Fprintf(&b, "  • shell(command=\"%s | tail -n 50\")\n", cmdEscaped)
	fmt.Fprintf(&b, "  • shell(command=\"%s | grep 'pattern'\")", cmdEscaped)
	return b.String()
}

func formatRecoveryWebSearch(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	fmt.Fprintf(&b, "Results: %d shown (truncated)\n\n", m.resultCount)

	query := firstNonEmpty(m.query, ctx["query"], "query")
	b.WriteString("Commands:\n")
	fmt.Fprintf(&b, "  • web_search(query=\"%s site:specific-domain.com\")\n", query)
	fmt.Fprintf(&b, "  • web_search(query=\"%s filetype:pdf\")\n", query)
	b.WriteString("  • web_fetch(url=\"<specific-result-url>\") for full content")
	return b.String()
}

func formatRecoveryWebFetch(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	title := firstNonEmpty(m.title, "Unknown Page")
	fmt.Fprintf(&b, "Page: %s | %d chars\n", title, m.charCount)
	url := firstNonEmpty(m.url, ctx["url"])
	if url != "" {
		fmt.Fprintf(&b, "URL: %s\n", url)
	}
	b.WriteString("\n")

	if url == "" {
		url = "<url>"
	}
	domain := "domain.com"
	if idx := strings.Index(url, "://"); idx >= 0 {
		rest := url[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			domain = rest[:slash]
		} else {
			domain = rest
		}
	}
	b.WriteString("Commands:\n")
	fmt.Fprintf(&b, "  • web_fetch(url=%q, save_to=\"/tmp/page.md\") then grep_content(pattern=\"keyword\", path=\"/tmp/page.md\")\n", url)
	fmt.Fprintf(&b, "  • web_search(query=\"site:%s specific topic\")", domain)
	return b.String()
}

func formatRecoveryGlob(m metadata, ctx map[string]string) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	shown := m.fileCount
	if shown > 50 {
		shown = 50
	}
	fmt.Fprintf(&b, "Found: %d files | Showing first ~%d\n\n", m.fileCount, shown)

	if len(m.commonPrefixes) > 0 {
		b.WriteString("Common directories:\n")
		for _, prefix := range m.commonPrefixes {
			fmt.Fprintf(&b, "  - %s/\n", prefix)
		}
		b.WriteString("\n")
	}

	pattern := firstNonEmpty(m.pattern, ctx["pattern"], "*.py")
	b.WriteString("Commands:\n")
	if len(m.commonPrefixes) > 0 {
		fmt.Fprintf(&b, "  • glob_files(pattern=%q, path=%q)\n", pattern, m.commonPrefixes[0])
	}
	fmt.Fprintf(&b, "  • glob_files(pattern=\"more_specific_%s\")", pattern)
	return b.String()
}

func formatRecoveryDefault(m metadata) string {
	var b strings.Builder
	b.WriteString("--- Recovery Options ---\n")
	fmt.Fprintf(&b, "Output: %d lines, %d chars\n\n", m.lineCount, m.charCount)
	b.WriteString("The output was truncated. Consider using more specific parameters\n")
	b.WriteString("or filtering the output with shell pipes (| head, | tail, | grep).")
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

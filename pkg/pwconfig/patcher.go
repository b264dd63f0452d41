package pwconfig

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/e2elab/runnoor/pkg/fsutil"
)

// ErrConfigNotFound is returned by PatchFile when the config file does
// not exist. Callers treat it as non-fatal: most flows only need the
// template path at initialization time.
var ErrConfigNotFound = errors.New("playwright config not found")

// Patch is a sparse set of named fields to apply to an existing
// playwright.config.ts. Nil fields are left untouched.
type Patch struct {
	TestDir       *string
	OutputDir     *string
	TimeoutMS     *int
	Retries       *int
	Workers       *int
	ExpectTimeout *int

	// use-block fields.
	BaseURL    *string
	Video      *string // off | on | retain-on-failure
	Screenshot *string // off | on | only-on-failure
	Trace      *string // off | on | retain-on-failure

	// Reporters replaces the reporter list when non-nil.
	Reporters []Reporter

	// Browsers replaces the projects block when non-nil.
	Browsers []string
}

// Reporter is one entry of the reporter list.
type Reporter struct {
	Name       string
	OutputFile string
}

// browserDevices maps browser projects to their Playwright device preset.
var browserDevices = map[string]string{
	"chromium": "Desktop Chrome",
	"firefox":  "Desktop Firefox",
	"webkit":   "Desktop Safari",
}

// ApplyPatch applies the sparse patch to the config text with targeted
// textual edits. The file is otherwise hand-edited by users, so the core
// correctness property is that unrelated content is preserved
// byte-identical. Applying the same patch twice yields the same text.
func ApplyPatch(text string, p *Patch) (string, error) {
	// The main settings region precedes the projects block; edits never
	// touch anything at or after it except an explicit Browsers patch.
	mainEnd := projectsStart(text)

	main := text[:mainEnd]
	rest := text[mainEnd:]

	// use-block fields first, scoped to the use sub-block so keys like
	// "timeout" in other blocks are never confused with it.
	useFields := []struct {
		key   string
		value *string
	}{
		{"baseURL", p.BaseURL},
		{"video", p.Video},
		{"screenshot", p.Screenshot},
		{"trace", p.Trace},
	}

	for _, f := range useFields {
		if f.value == nil {
			continue
		}

		var err error

		main, err = setUseField(main, f.key, quote(*f.value))
		if err != nil {
			return "", err
		}
	}

	if p.ExpectTimeout != nil {
		main = setExpectTimeout(main, *p.ExpectTimeout)
	}

	// Top-level fields, masked against the use and expect sub-blocks.
	if p.TestDir != nil {
		main = setTopLevel(main, "testDir", quote(*p.TestDir))
	}

	if p.OutputDir != nil {
		main = setTopLevel(main, "outputDir", quote(*p.OutputDir))
	}

	if p.TimeoutMS != nil {
		main = setTopLevel(main, "timeout", fmt.Sprintf("%d", *p.TimeoutMS))
	}

	if p.Retries != nil {
		main = setTopLevel(main, "retries", fmt.Sprintf("%d", *p.Retries))
	}

	if p.Workers != nil {
		main = setTopLevel(main, "workers", fmt.Sprintf("%d", *p.Workers))
	}

	if p.Reporters != nil {
		main = setReporters(main, p.Reporters)
	}

	text = main + rest

	if p.Browsers != nil {
		text = setProjects(text, p.Browsers)
	}

	return text, nil
}

// PatchFile reads, patches, and atomically rewrites the config at path.
func PatchFile(path string, p *Patch) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigNotFound
		}

		return fmt.Errorf("reading config: %w", err)
	}

	patched, err := ApplyPatch(string(data), p)
	if err != nil {
		return fmt.Errorf("patching config: %w", err)
	}

	if patched == string(data) {
		return nil
	}

	if err := fsutil.WriteFileAtomic(path, []byte(patched), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

var (
	projectsRe     = regexp.MustCompile(`(?m)^\s*projects:\s*\[`)
	defineConfigRe = regexp.MustCompile(`defineConfig(?:<[^>]*>)?\(\{`)
	useOpenRe      = regexp.MustCompile(`(?m)^(\s*)use:\s*\{`)
	expectOpenRe   = regexp.MustCompile(`(?m)^(\s*)expect:\s*\{`)
)

// projectsStart returns the offset where the projects block begins, or
// len(text) when there is none.
func projectsStart(text string) int {
	loc := projectsRe.FindStringIndex(text)
	if loc == nil {
		return len(text)
	}

	return loc[0]
}

// blockEnd returns the offset just past the brace matching the opening
// brace at openIdx, or -1 when unbalanced.
func blockEnd(s string, openIdx int) int {
	return delimEnd(s, openIdx, '{', '}')
}

// bracketEnd is blockEnd for square brackets.
func bracketEnd(s string, openIdx int) int {
	return delimEnd(s, openIdx, '[', ']')
}

// delimEnd counts nested open/close delimiters, skipping string literals
// and comments so a value like 'http://x/{id}' or a brace in a comment
// never unbalances the scan.
func delimEnd(s string, openIdx int, open, close byte) int {
	depth := 0

	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '\'', '"', '`':
			end := stringEnd(s, i)
			if end < 0 {
				return -1
			}

			i = end
		case '/':
			end := commentEnd(s, i)
			if end < 0 {
				return -1
			}

			i = end
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return -1
}

// commentEnd returns the index of the last byte of the comment starting
// at idx, or idx itself when the slash opens no comment.
func commentEnd(s string, idx int) int {
	if idx+1 >= len(s) {
		return idx
	}

	switch s[idx+1] {
	case '/':
		nl := strings.IndexByte(s[idx:], '\n')
		if nl < 0 {
			return len(s) - 1
		}

		return idx + nl
	case '*':
		end := strings.Index(s[idx+2:], "*/")
		if end < 0 {
			return -1
		}

		return idx + 2 + end + 1
	}

	return idx
}

// stringEnd returns the index of the quote closing the string opened at
// openIdx, honoring backslash escapes.
func stringEnd(s string, openIdx int) int {
	quote := s[openIdx]

	for i := openIdx + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i
		}
	}

	return -1
}

// useBlockRange locates the use sub-block within the main region.
func useBlockRange(main string) (start, end int, ok bool) {
	loc := useOpenRe.FindStringIndex(main)
	if loc == nil {
		return 0, 0, false
	}

	open := strings.IndexByte(main[loc[0]:loc[1]], '{') + loc[0]

	blockClose := blockEnd(main, open)
	if blockClose < 0 {
		return 0, 0, false
	}

	return loc[0], blockClose, true
}

// setUseField replaces or inserts key: value inside the use block. When
// no use block exists one is created at the canonical position.
func setUseField(main, key, value string) (string, error) {
	start, end, ok := useBlockRange(main)
	if !ok {
		block := fmt.Sprintf("  use: {\n    %s: %s,\n  },\n", key, value)

		return insertAfterDefineConfig(main, block), nil
	}

	use := main[start:end]

	re := regexp.MustCompile(`(?m)^(\s*)` + regexp.QuoteMeta(key) + `:\s*[^\n]*?,?\s*$`)
	if re.MatchString(use) {
		use = re.ReplaceAllString(use, "${1}"+key+": "+value+",")

		return main[:start] + use + main[end:], nil
	}

	// Insert right after the opening brace of the use block.
	openLineEnd := strings.IndexByte(use, '\n')
	if openLineEnd < 0 {
		return "", fmt.Errorf("malformed use block")
	}

	indent := useIndent(use) + "  "
	use = use[:openLineEnd+1] + indent + key + ": " + value + ",\n" + use[openLineEnd+1:]

	return main[:start] + use + main[end:], nil
}

// useIndent returns the indentation of the use block's opening line.
func useIndent(use string) string {
	m := useOpenRe.FindStringSubmatch(use)
	if m == nil {
		return "  "
	}

	return m[1]
}

// setExpectTimeout replaces the timeout inside the expect block, or
// inserts a canonical expect block when absent.
func setExpectTimeout(main string, timeout int) string {
	loc := expectOpenRe.FindStringIndex(main)
	if loc == nil {
		block := fmt.Sprintf("  expect: {\n    timeout: %d,\n  },\n", timeout)

		return insertAfterDefineConfig(main, block)
	}

	open := strings.IndexByte(main[loc[0]:loc[1]], '{') + loc[0]

	end := blockEnd(main, open)
	if end < 0 {
		return main
	}

	expect := main[loc[0]:end]

	re := regexp.MustCompile(`(?m)^(\s*)timeout:\s*[^\n]*?,?\s*$`)
	if re.MatchString(expect) {
		expect = re.ReplaceAllString(expect, fmt.Sprintf("${1}timeout: %d,", timeout))
	} else {
		openLineEnd := strings.IndexByte(expect, '\n')
		if openLineEnd >= 0 {
			expect = expect[:openLineEnd+1] +
				fmt.Sprintf("    timeout: %d,\n", timeout) +
				expect[openLineEnd+1:]
		}
	}

	return main[:loc[0]] + expect + main[end:]
}

// setTopLevel replaces or inserts a top-level field, masking the use and
// expect sub-blocks so their keys are never touched.
func setTopLevel(main, key, value string) string {
	masked := maskSubBlocks(main)

	re := regexp.MustCompile(`(?m)^(\s*)` + regexp.QuoteMeta(key) + `:\s*[^\n]*?,?\s*$`)

	loc := re.FindStringIndex(masked)
	if loc == nil {
		return insertAfterDefineConfig(main, "  "+key+": "+value+",\n")
	}

	m := re.FindStringSubmatch(masked[loc[0]:loc[1]])

	return main[:loc[0]] + m[1] + key + ": " + value + "," + main[loc[1]:]
}

// maskSubBlocks blanks the contents of the use and expect sub-blocks so
// top-level regexes cannot match inside them. Offsets are preserved.
func maskSubBlocks(main string) string {
	masked := []byte(main)

	for _, re := range []*regexp.Regexp{useOpenRe, expectOpenRe} {
		loc := re.FindStringIndex(main)
		if loc == nil {
			continue
		}

		open := strings.IndexByte(main[loc[0]:loc[1]], '{') + loc[0]

		end := blockEnd(main, open)
		if end < 0 {
			continue
		}

		for i := open; i < end; i++ {
			if masked[i] != '\n' {
				masked[i] = ' '
			}
		}
	}

	return string(masked)
}

// insertAfterDefineConfig inserts block on the line following the
// defineConfig({ opener; appended at the end as a last resort.
func insertAfterDefineConfig(main, block string) string {
	loc := defineConfigRe.FindStringIndex(main)
	if loc == nil {
		return main + block
	}

	lineEnd := strings.IndexByte(main[loc[1]:], '\n')
	if lineEnd < 0 {
		return main + block
	}

	at := loc[1] + lineEnd + 1

	return main[:at] + block + main[at:]
}

// setReporters replaces the reporter list with a canonical single-line
// form, or inserts one when absent.
func setReporters(main string, reporters []Reporter) string {
	parts := make([]string, 0, len(reporters))

	for _, r := range reporters {
		if r.OutputFile != "" {
			parts = append(parts, fmt.Sprintf("['%s', { outputFile: '%s' }]",
				r.Name, r.OutputFile))
		} else {
			parts = append(parts, fmt.Sprintf("['%s']", r.Name))
		}
	}

	value := "[" + strings.Join(parts, ", ") + "]"

	reporterRe := regexp.MustCompile(`(?m)^(\s*)reporter:`)

	loc := reporterRe.FindStringIndex(main)
	if loc == nil {
		return insertAfterDefineConfig(main, "  reporter: "+value+",\n")
	}

	indent := reporterRe.FindStringSubmatch(main[loc[0]:loc[1]])[1]

	// The existing value may be a quoted string or a (nested) array.
	tail := main[loc[1]:]

	openBracket := -1

	for i, c := range tail {
		if c == '\n' {
			break
		}

		if c == '[' {
			openBracket = loc[1] + i

			break
		}
	}

	var end int

	if openBracket >= 0 {
		end = bracketEnd(main, openBracket)
		if end < 0 {
			return main
		}
	} else {
		// Single-line scalar value.
		lineEnd := strings.IndexByte(tail, '\n')
		if lineEnd < 0 {
			end = len(main)
		} else {
			end = loc[1] + lineEnd
		}
	}

	// Swallow one trailing comma.
	if end < len(main) && main[end] == ',' {
		end++
	}

	return main[:loc[0]] + indent + "reporter: " + value + "," + main[end:]
}

// setProjects replaces the whole projects block with canonical desktop
// browser entries, or appends one before the closing of defineConfig.
func setProjects(text string, browsers []string) string {
	var b strings.Builder

	b.WriteString("  projects: [\n")

	for _, browser := range browsers {
		device, ok := browserDevices[browser]
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "    {\n      name: '%s',\n      use: { ...devices['%s'] },\n    },\n",
			browser, device)
	}

	b.WriteString("  ],")

	block := b.String()

	loc := projectsRe.FindStringIndex(text)
	if loc == nil {
		// Append before the final closing of defineConfig.
		closeIdx := strings.LastIndex(text, "});")
		if closeIdx < 0 {
			return text + block + "\n"
		}

		return text[:closeIdx] + block + "\n" + text[closeIdx:]
	}

	openBracket := strings.IndexByte(text[loc[0]:loc[1]], '[') + loc[0]

	end := bracketEnd(text, openBracket)
	if end < 0 {
		return text
	}

	if end < len(text) && text[end] == ',' {
		end++
	}

	return text[:loc[0]] + block + text[end:]
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

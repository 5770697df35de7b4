// Package buildlog classifies failures in CI build logs against a table of
// known error signatures and suggests fixes.
package buildlog

import (
	"regexp"
	"strings"
)

type Category string

const (
	CategorySDK           Category = "SDK Installation"
	CategoryLicense       Category = "License Acceptance"
	CategoryPath          Category = "Path Configuration"
	CategoryDependency    Category = "Dependency Conflict"
	CategoryCompilation   Category = "Compilation Error"
	CategoryConfiguration Category = "Configuration Error"
	CategoryPermission    Category = "Permission Error"
	CategoryNetwork       Category = "Network Error"
)

// Pattern is one known error signature.
type Pattern struct {
	Re          *regexp.Regexp
	Category    Category
	Description string
	Fix         string
}

func p(expr string, c Category, desc, fix string) Pattern {
	return Pattern{Re: regexp.MustCompile(`(?im)` + expr), Category: c, Description: desc, Fix: fix}
}

// Patterns are matched in order; each may match several times.
var Patterns = []Pattern{
	p(`build-tools folder not found`, CategorySDK,
		"Build tools directory not found", "Check ANDROID_HOME path and ensure build-tools are installed"),
	p(`Aidl not found`, CategorySDK,
		"AIDL tool not found", "Install build-tools package via sdkmanager"),
	p(`license is not accepted`, CategoryLicense,
		"Android SDK license not accepted", "Run: echo 'y' | sdkmanager --licenses"),
	p(`sdkmanager path.*does not exist`, CategoryPath,
		"sdkmanager not found at expected path", "Create symlink from cmdline-tools to tools/bin"),
	p(`platform android-\d+ not found`, CategorySDK,
		"Android platform not installed", "Install platform via sdkmanager or use available platform"),
	p(`Conflict detected.*kivy.*webview`, CategoryDependency,
		"Kivy and webview bootstrap conflict", "Use sdl2 bootstrap instead of webview"),
	p(`LT_SYS_SYMBOL_USCORE.*undefined macro`, CategoryCompilation,
		"libffi compilation error with autotools", "Set LT_SYS_SYMBOL_USCORE=no or blacklist libffi recipe"),
	p(`autoreconf.*failed with exit status`, CategoryCompilation,
		"Autotools configuration failed", "Install autoconf, automake, libtool or use system libffi"),
	p(`End-of-central-directory signature not found`, CategoryNetwork,
		"Downloaded zip file is corrupted", "Retry download or use alternative URL"),
	p(`Requested API target \d+ is not available`, CategoryConfiguration,
		"Android API level not installed", "Install the required API level or update buildozer.spec"),
	p(`android\.bootstrap is deprecated`, CategoryConfiguration,
		"Deprecated buildozer.spec parameter", "Replace android.bootstrap with p4a.bootstrap"),
	p(`android\.arch.*deprecated`, CategoryConfiguration,
		"Deprecated buildozer.spec parameter", "Replace android.arch with android.archs"),
}

// ContextLines is how many lines are kept on each side of a match.
const ContextLines = 3

// Finding is one match of a known pattern.
type Finding struct {
	Category    Category
	Description string
	Fix         string
	Line        int // 1-based
	Context     []string
}

// Analyze scans content with every pattern.
func Analyze(content string) []Finding {
	lines := strings.Split(content, "\n")
	var out []Finding
	for _, pat := range Patterns {
		for _, loc := range pat.Re.FindAllStringIndex(content, -1) {
			line := strings.Count(content[:loc[0]], "\n")
			out = append(out, Finding{
				Category:    pat.Category,
				Description: pat.Description,
				Fix:         pat.Fix,
				Line:        line + 1,
				Context:     contextAround(lines, line),
			})
		}
	}
	return out
}

func contextAround(lines []string, idx int) []string {
	start := max(0, idx-ContextLines)
	end := min(len(lines), idx+ContextLines+1)
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}

// Group is the findings of one category.
type Group struct {
	Category Category
	Findings []Finding
}

// GroupByCategory keeps categories in order of first appearance.
func GroupByCategory(findings []Finding) []Group {
	var groups []Group
	index := make(map[Category]int)
	for _, f := range findings {
		i, ok := index[f.Category]
		if !ok {
			i = len(groups)
			index[f.Category] = i
			groups = append(groups, Group{Category: f.Category})
		}
		groups[i].Findings = append(groups[i].Findings, f)
	}
	return groups
}

var priorityActions = map[Category]string{
	CategorySDK:           "1. Fix Android SDK installation and paths",
	CategoryLicense:       "2. Accept Android SDK licenses",
	CategoryDependency:    "3. Resolve dependency conflicts (use sdl2 bootstrap)",
	CategoryCompilation:   "4. Fix compilation issues (libffi, autotools)",
	CategoryConfiguration: "5. Update buildozer.spec configuration",
}

// PriorityActions lists the recommended actions for groups, in group order.
// Categories without a standing action contribute nothing.
func PriorityActions(groups []Group) []string {
	var out []string
	for _, g := range groups {
		if a, ok := priorityActions[g.Category]; ok {
			out = append(out, a)
		}
	}
	return out
}

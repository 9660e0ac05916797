// Package security masks credentials before text reaches a log.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is one kind of credential.
type Pattern struct {
	Name     string
	Category string
	re       *regexp.Regexp
}

// Redactor replaces credentials with a [REDACTED_<CATEGORY>] marker.
type Redactor struct {
	patterns []Pattern
}

// Redaction is the outcome of one pass.
type Redaction struct {
	Text  string
	Count int
	Types []string
}

var defaultRedactor = NewRedactor()

// NewRedactor returns a redactor loaded with the credential patterns.
// Hashes, emails and similar look-alikes are left alone since paths and
// file content are full of them.
func NewRedactor() *Redactor {
	r := &Redactor{}

	r.add("API Key", "api", `(?i)api[_-]?keys?\s*[:=]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`)
	r.add("Secret Key", "api", `(?i)secret[_-]?keys?\s*[:=]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`)
	r.add("Access Token", "api", `(?i)access[_-]?tokens?\s*[:=]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`)
	r.add("Bearer Token", "api", `Bearer\s+([a-zA-Z0-9\-_\.]{20,})`)
	r.add("OpenAI Key", "api", `(sk-[a-zA-Z0-9_\-]{20,})`)

	r.add("Password", "auth", `(?i)passw(?:or)?d\s*[:=]\s*["']?([^\s"']{8,})["']?`)

	r.add("AWS Access Key", "cloud", `(AKIA[0-9A-Z]{16})`)
	r.add("Google API Key", "cloud", `(AIza[0-9A-Za-z\-_]{35})`)
	r.add("GitHub Token", "oauth", `(ghp_[a-zA-Z0-9]{36})`)
	r.add("GitLab Token", "oauth", `(glpat-[a-zA-Z0-9\-_]{20})`)
	r.add("Slack Token", "oauth", `(xox[baprs]-[0-9a-zA-Z\-]{10,})`)

	r.add("URL Credentials", "url", `[a-z][a-z0-9+.\-]*://[^:@\s/]+:([^@\s/]+)@`)
	r.add("Private Key", "crypto", `(-----BEGIN [A-Z ]*PRIVATE KEY-----)`)

	return r
}

func (r *Redactor) add(name, category, pattern string) {
	r.patterns = append(r.patterns, Pattern{Name: name, Category: category, re: regexp.MustCompile(pattern)})
}

// Patterns returns the loaded patterns.
func (r *Redactor) Patterns() []Pattern {
	return r.patterns
}

// Redact masks the first capture group of every match.
func (r *Redactor) Redact(text string) Redaction {
	out := Redaction{Text: text}
	for _, p := range r.patterns {
		marker := fmt.Sprintf("[REDACTED_%s]", strings.ToUpper(p.Category))
		replaced := p.re.ReplaceAllStringFunc(out.Text, func(match string) string {
			sub := p.re.FindStringSubmatch(match)
			if len(sub) < 2 || sub[1] == "" {
				return match
			}
			out.Count++
			out.Types = append(out.Types, p.Name)
			return strings.Replace(match, sub[1], marker, 1)
		})
		out.Text = replaced
	}
	return out
}

// Redact masks credentials in text with the default patterns.
func Redact(text string) string {
	return defaultRedactor.Redact(text).Text
}

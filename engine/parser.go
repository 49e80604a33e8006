package engine

import (
	"regexp"
	"strings"

	"github.com/becomeliminal/nim-companion/core"
)

var (
	replyTag   = regexp.MustCompile(`(?s)<reply>(.*?)</reply>`)
	reactTag   = regexp.MustCompile(`(?s)<react>(.*?)</react>`)
	memoryTag  = regexp.MustCompile(`(?s)<memory>(.*?)</memory>`)
	topicTag   = regexp.MustCompile(`(?s)<topic>(.*?)</topic>`)
	contentTag = regexp.MustCompile(`(?s)<content>(.*?)</content>`)
)

// Parsed holds the structured fields of a chat response.
type Parsed struct {
	Reply    string
	Reaction string
	// Memory is the memory directive; core.IgnoreMemory means persist nothing.
	Memory string
}

// Parse extracts the tagged regions of raw model output.
//
// A missing reply tag makes the whole output the reply, a missing react tag
// means no reaction, and a missing memory tag means IGNORE.
func Parse(raw string) Parsed {
	p := Parsed{
		Reply:  raw,
		Memory: core.IgnoreMemory,
	}
	if v, ok := extract(replyTag, raw); ok {
		p.Reply = v
	}
	if v, ok := extract(reactTag, raw); ok {
		p.Reaction = v
	}
	if v, ok := extract(memoryTag, raw); ok {
		p.Memory = v
	}
	return p
}

// extract returns the trimmed first match of re's group.
func extract(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

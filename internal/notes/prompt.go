package notes

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/budget"
	"github.com/54b3r/studyai-go/internal/retrieval"
)

const systemPrompt = `You are an expert tutor writing personalised study notes.
Ground every explanation in the source passages you are given. Where a topic has no
passages, say plainly that the document does not cover it. Respond in markdown only.`

// evidence is one passage placed in the prompt under a weak topic.
type evidence struct {
	topic string
	rank  int // position of topic in the weak-topic list
	score float32
	text  string
}

// selectEvidence assigns up to perTopic passages to each weak topic, best
// first. A passage is used under the first topic that claims it.
func selectEvidence(topics []string, res *retrieval.Result, perTopic, maxChars int) []evidence {
	if res == nil {
		return nil
	}
	used := make(map[string]bool)
	var out []evidence
	for rank, t := range topics {
		n := 0
		for _, p := range res.PassagesFor(t) {
			if n == perTopic {
				break
			}
			if used[p.ChunkID] {
				continue
			}
			used[p.ChunkID] = true
			out = append(out, evidence{topic: t, rank: rank, score: p.Score, text: clip(p.Text, maxChars)})
			n++
		}
	}
	return out
}

// fitEvidence drops the lowest-scoring passages until the prompt fits
// maxTokens, then restores topic order. fixedTokens must cover the prompt
// rendered with no passages, topic headers and placeholders included.
func fitEvidence(fixedTokens int, ev []evidence, maxTokens int) []evidence {
	byScore := slices.Clone(ev)
	slices.SortStableFunc(byScore, func(a, b evidence) int { return cmp.Compare(b.score, a.score) })
	cost := func(e evidence) int { return passageTokens(e, len(ev)) }
	kept := budget.FitCost(fixedTokens, byScore, cost, maxTokens)
	slices.SortStableFunc(kept, func(a, b evidence) int { return cmp.Compare(a.rank, b.rank) })
	return kept
}

// passageLine renders the n-th passage of the prompt.
func passageLine(n int, e evidence) string { return fmt.Sprintf("[Passage %d] %s\n", n, e.text) }

// passageTokens bounds what one passage adds to a prompt of at most total
// passages. Estimate rounds down, so each part carries one extra token to
// keep the sum of the parts at or above the estimate of the whole.
func passageTokens(e evidence, total int) int {
	return budget.Estimate(passageLine(total, e)) + 1
}

// scaffoldTokens estimates the prompt with every passage left out.
func scaffoldTokens(head, tail string, topics, uncovered []string) int {
	return budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(renderPrompt(head, tail, topics, nil, uncovered)),
	})
}

// promptParts returns the text before and after the passages.
func promptParts(p Performance, uncovered []string) (head, tail string) {
	var b strings.Builder
	b.WriteString("Write study notes for a learner who just completed a quiz.\n\nPerformance:\n")
	if p.DocumentTitle != "" {
		fmt.Fprintf(&b, "- Document: %s\n", p.DocumentTitle)
	}
	fmt.Fprintf(&b, "- Score: %.1f%% (%d of %d correct)\n", p.Score, p.Correct, p.Total)
	fmt.Fprintf(&b, "- Performance level: %s\n", p.Level)
	if len(p.WeakTopics) > 0 {
		fmt.Fprintf(&b, "- Weak topics, most important first: %s\n", strings.Join(p.WeakTopics, ", "))
	} else {
		b.WriteString("- Weak topics: none; every question was answered correctly\n")
	}
	if len(uncovered) > 0 {
		fmt.Fprintf(&b, "- Not covered by the document: %s\n", strings.Join(uncovered, ", "))
	}
	b.WriteString("\nSource passages:\n")
	head = b.String()

	b.Reset()
	b.WriteString("\nUse exactly these level-two headings, in this order:\n")
	for _, s := range Sections {
		fmt.Fprintf(&b, "## %s\n", s)
	}
	b.WriteString(`
Rules:
- Summary: two to four sentences on the result and what to focus on
- Topic Explanations: one ### subsection per weak topic, explained from its passages
- Practice Recommendations: concrete exercises for the weak topics
- Study Plan: a short schedule matched to the performance level
`)
	tail = b.String()
	return head, tail
}

// renderPrompt writes head, the passages grouped by topic, and tail.
func renderPrompt(head, tail string, topics []string, ev []evidence, uncovered []string) string {
	var b strings.Builder
	b.WriteString(head)
	missing := make(map[string]bool, len(uncovered))
	for _, t := range uncovered {
		missing[t] = true
	}
	n := 0
	for _, t := range topics {
		fmt.Fprintf(&b, "\n=== TOPIC: %s ===\n", t)
		wrote := false
		for _, e := range ev {
			if e.topic != t {
				continue
			}
			n++
			b.WriteString(passageLine(n, e))
			wrote = true
		}
		switch {
		case missing[t]:
			b.WriteString("(the document has no passage on this topic)\n")
		case !wrote:
			b.WriteString("(passages omitted for length)\n")
		}
	}
	if len(topics) == 0 {
		b.WriteString("(none needed)\n")
	}
	b.WriteString(tail)
	return b.String()
}

// parseSections splits a markdown reply into the required sections. Headings
// match case-insensitively at any level, ignoring leading numbering, emoji and
// emphasis. Every required section must be present with a non-empty body.
func parseSections(reply string) (map[string]string, error) {
	bodies := make(map[string]*strings.Builder, len(Sections))
	var current *strings.Builder
	for _, line := range strings.Split(reply, "\n") {
		if name, ok := sectionHeading(line); ok {
			if _, dup := bodies[name]; !dup {
				bodies[name] = &strings.Builder{}
			}
			current = bodies[name]
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteByte('\n')
		}
	}

	out := make(map[string]string, len(Sections))
	var missing []string
	for _, s := range Sections {
		b, ok := bodies[s]
		if !ok || strings.TrimSpace(b.String()) == "" {
			missing = append(missing, s)
			continue
		}
		out[s] = strings.TrimSpace(b.String())
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.StageSynthesis, apperr.KindGenerationInvalid, "validate",
			"missing sections: "+strings.Join(missing, ", "))
	}
	return out, nil
}

// sectionHeading reports whether line is a heading naming a required section.
func sectionHeading(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	title := strings.TrimLeft(line, "#")
	title = strings.TrimLeftFunc(title, func(r rune) bool { return !unicode.IsLetter(r) })
	title = strings.TrimRight(title, ":*_ \t")
	for _, s := range Sections {
		if strings.EqualFold(title, s) {
			return s, true
		}
	}
	return "", false
}

// clip cuts s to at most n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}

package quiz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/54b3r/studyai-go/internal/apperr"
)

// rawQuestion mirrors the JSON object the model is asked to produce. Loose
// types absorb common deviations (numeric strings, boolean answers).
type rawQuestion struct {
	Text          string   `json:"question_text"`
	Type          string   `json:"question_type"`
	Options       []any    `json:"options"`
	CorrectAnswer any      `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Difficulty    any      `json:"difficulty"`
	Topics        []string `json:"topics"`
}

// typeAliases maps spellings seen in model output onto QuestionType.
var typeAliases = map[string]QuestionType{
	"multiple_choice":   MultipleChoice,
	"multiplechoice":    MultipleChoice,
	"mcq":               MultipleChoice,
	"choice":            MultipleChoice,
	"true_false":        TrueFalse,
	"true/false":        TrueFalse,
	"truefalse":         TrueFalse,
	"tf":                TrueFalse,
	"boolean":           TrueFalse,
	"short_answer":      ShortAnswer,
	"short":             ShortAnswer,
	"open":              ShortAnswer,
	"fill_in_the_blank": ShortAnswer,
}

// invalid builds the GenerationInvalid error for a rejected response.
func invalid(format string, args ...any) error {
	return apperr.New(apperr.StageGeneration, apperr.KindGenerationInvalid, "validate", fmt.Sprintf(format, args...))
}

// extractArray returns the JSON array embedded in a model reply, tolerating
// markdown fences and prose around it.
func extractArray(reply string) (string, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return "", invalid("response contains no JSON array")
	}
	return reply[start : end+1], nil
}

// parseQuestions decodes, normalises, and validates a model reply against
// req. Any invalid question rejects the whole reply. Questions beyond
// req.NumQuestions are dropped; ids are assigned 1..n.
func parseQuestions(reply string, req Request) ([]Question, error) {
	body, err := extractArray(reply)
	if err != nil {
		return nil, err
	}
	var raws []rawQuestion
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return nil, invalid("response is not a JSON array of questions: %v", err)
	}
	if len(raws) == 0 {
		return nil, invalid("response contains no questions")
	}
	if len(raws) > req.NumQuestions {
		raws = raws[:req.NumQuestions]
	}

	out := make([]Question, 0, len(raws))
	for i, r := range raws {
		q, err := normalise(r, req)
		if err != nil {
			return nil, invalid("question %d: %v", i+1, err)
		}
		q.ID = i + 1
		out = append(out, q)
	}
	return out, nil
}

// normalise converts one raw question into a Question and validates it.
func normalise(r rawQuestion, req Request) (Question, error) {
	q := Question{
		Text:        strings.TrimSpace(r.Text),
		Explanation: strings.TrimSpace(r.Explanation),
		Topics:      normaliseTopics(r.Topics),
	}
	if q.Text == "" {
		return q, fmt.Errorf("empty question text")
	}

	key := strings.ToLower(strings.TrimSpace(r.Type))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	t, ok := typeAliases[key]
	if !ok {
		return q, fmt.Errorf("unknown question type %q", r.Type)
	}
	q.Type = t

	d, err := difficulty(r.Difficulty, req)
	if err != nil {
		return q, err
	}
	q.Difficulty = d

	answer := strings.TrimSpace(stringify(r.CorrectAnswer))
	if answer == "" {
		return q, fmt.Errorf("empty correct answer")
	}

	switch q.Type {
	case TrueFalse:
		q.Options = []string{"True", "False"}
		b, ok := parseBool(answer)
		if !ok {
			return q, fmt.Errorf("true/false answer %q is neither true nor false", answer)
		}
		q.CorrectAnswer = "False"
		if b {
			q.CorrectAnswer = "True"
		}

	case MultipleChoice:
		q.Options = normaliseOptions(r.Options)
		if len(q.Options) < 2 {
			return q, fmt.Errorf("multiple choice needs at least 2 distinct options, got %d", len(q.Options))
		}
		canonical, ok := matchOption(answer, q.Options)
		if !ok {
			return q, fmt.Errorf("correct answer %q is not one of the options", answer)
		}
		q.CorrectAnswer = canonical

	case ShortAnswer:
		q.CorrectAnswer = answer
	}
	return q, nil
}

// difficulty parses v and checks it against the requested band. A missing
// difficulty takes the middle of the band.
func difficulty(v any, req Request) (int, error) {
	var d int
	switch x := v.(type) {
	case nil:
		return (req.MinDifficulty + req.MaxDifficulty) / 2, nil
	case float64:
		d = int(x)
		if float64(d) != x {
			return 0, fmt.Errorf("difficulty %v is not an integer", x)
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("difficulty %q is not an integer", x)
		}
		d = n
	default:
		return 0, fmt.Errorf("difficulty has unsupported type %T", v)
	}
	if d < req.MinDifficulty || d > req.MaxDifficulty {
		return 0, fmt.Errorf("difficulty %d outside requested range %d-%d", d, req.MinDifficulty, req.MaxDifficulty)
	}
	return d, nil
}

// matchOption resolves a multiple-choice answer to the exact option text. It
// accepts the option itself, a case-insensitive match, or a letter label
// such as "B", "b)", or "(B)".
func matchOption(answer string, options []string) (string, bool) {
	for _, o := range options {
		if o == answer {
			return o, true
		}
	}
	for _, o := range options {
		if strings.EqualFold(o, answer) {
			return o, true
		}
	}
	label := strings.Trim(answer, "()[]. :")
	if len(label) == 1 {
		c := label[0] | 0x20 // lowercase ASCII
		if c >= 'a' && int(c-'a') < len(options) {
			return options[c-'a'], true
		}
	}
	return "", false
}

func normaliseOptions(raw []any) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		o := strings.TrimSpace(stringify(v))
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

func normaliseTopics(raw []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes":
		return true, true
	case "false", "f", "no":
		return false, true
	default:
		return false, false
	}
}

// stringify renders a decoded JSON scalar as text.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

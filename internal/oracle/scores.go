package oracle

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
)

// neutralScore substitutes for a criterion the oracle failed to score.
const neutralScore = 0.5

// parseEvaluation extracts per-criterion scores from an oracle response. The
// expected shape is one "<Name> Score: NN" line per criterion, scores on a
// 0-100 scale. Markdown asterisks are stripped first since models decorate
// freely. complete reports whether every criterion was found; missing ones
// are filled with the neutral score so a caller can still accept a partial
// response after running out of retries.
func parseEvaluation(response string, criteria []problem.Criterion) (ev Evaluation, complete bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(response, "*", ""))
	ev = Evaluation{
		Criteria: make(map[string]float64, len(criteria)),
		Raw:      cleaned,
	}
	complete = true
	sum := 0.0
	for _, c := range criteria {
		pattern := regexp.MustCompile(regexp.QuoteMeta(c.Name+" Score:") + `\s*(\d+(\.\d+)?)`)
		m := pattern.FindStringSubmatch(cleaned)
		if m == nil {
			ev.Criteria[c.Name] = neutralScore
			sum += neutralScore
			complete = false
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			ev.Criteria[c.Name] = neutralScore
			sum += neutralScore
			complete = false
			continue
		}
		score := v / 100
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		ev.Criteria[c.Name] = score
		sum += score
	}
	if len(criteria) > 0 {
		ev.Aggregate = sum / float64(len(criteria))
	}
	return ev, complete
}

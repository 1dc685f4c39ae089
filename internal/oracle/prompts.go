package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
)

// timestampHeader defeats response caching on providers that dedupe
// identical prompts.
func timestampHeader() string {
	return "[IGNORE: timestamp for record keeping - " + time.Now().Format("2006-01-02 15:04:05") + "]\n"
}

const generationSystemPrompt = `You are an expert idea generation system with a sought-after creative mind.
You utilize your broad knowledge and experience to generate innovative ideas.
Your idea generation process thrives when you're provided a Creative Directive, which is a strategy or constraint that guides your idea generation process.
You always take into account the user's general problem statement and their own specific constraints when generating ideas.
Sometimes you are provided with an existing idea which you need to expand upon and improve.`

func seedIdeaPrompt(req GenerateRequest) string {
	var b strings.Builder
	b.WriteString(timestampHeader())
	fmt.Fprintf(&b, `I'm starting a brainstorming session and I need your help to generate a new idea.

Problem Statement:
%s

Constraints:
%s

Creative Directive: %s
Creative Directive Instruction: %s
Creative Directive Explanation: %s

Use the Problem Statement, Constraints, and Creative Directive to generate a new and innovative idea.
State your high level idea in a single sentence. Then describe the idea in more detail in two more sentences.
Your responses will be plain text. Do not use markdown or any other formatting.
ONLY respond with your idea. No introductions, exposition, or other commentary.

I believe in your ability to generate a great idea. You've always delivered. Really try to do your best.`,
		req.Problem, req.Constraints, req.Directive.Name, req.Directive.Instruction, req.Directive.Explanation)
	return b.String()
}

func deepenIdeaPrompt(req GenerateRequest) string {
	current := req.Lineage[len(req.Lineage)-1]
	var lineage strings.Builder
	if len(req.Lineage) > 1 {
		lineage.WriteString("Idea Lineage (how the existing idea evolved, oldest first):\n")
		for i, idea := range req.Lineage[:len(req.Lineage)-1] {
			fmt.Fprintf(&lineage, "%d. %s\n", i+1, idea)
		}
		lineage.WriteString("\n")
	}
	var b strings.Builder
	b.WriteString(timestampHeader())
	fmt.Fprintf(&b, `I'm brainstorming ideas and I need your help to generate a new idea based on an existing idea that I have. I really want you to improve the existing idea.

Problem Statement:
%s

Constraints:
%s

%sExisting Idea:
%s

Creative Directive: %s
Instruction: %s
Explanation: %s

Use the Problem Statement, Constraints, Existing Idea, and Creative Directive to expand on and evolve the Existing Idea.
Your new idea should be an improvement on the existing idea, not a complete departure. You're trying to make the existing idea better.
State your high level idea in a single sentence. Then describe the idea in more detail in two more sentences.
Your responses will be plain text. Do not use markdown or any other formatting.
ONLY respond with your idea. No introductions, exposition, or other commentary.

I believe in your ability to generate a great idea. You've always delivered. Really try to do your best to improve the existing idea.
Do NOT reference the Existing Idea in your response. Someone will be evaluating your idea, and they will have never seen the Existing Idea.`,
		req.Problem, req.Constraints, lineage.String(), current,
		req.Directive.Name, req.Directive.Instruction, req.Directive.Explanation)
	return b.String()
}

func generatePrompt(req GenerateRequest) string {
	if len(req.Lineage) == 0 {
		return seedIdeaPrompt(req)
	}
	return deepenIdeaPrompt(req)
}

func evaluationSystemPrompt(criteria []problem.Criterion) string {
	var lines strings.Builder
	for i, c := range criteria {
		fmt.Fprintf(&lines, "%d. %s: %s\n", i+1, c.Name, c.Description)
	}
	return fmt.Sprintf(`You're a hyper-critical idea evaluation system.
You consider a Problem Statement and Constraints when evaluating ideas.
You have exceptional taste and have a great gut for determining the merit of an idea.
You evaluate ideas across multiple criteria:
%s
You provide a one sentence reasoning for each criterion and an accompanying score of 0 to 100.
- A score of 0 means the idea exhibits none of a given criterion.
- A score of 50 means the idea exhibits average performance within a given criterion.
- A score of 100 means the idea exhibits the best possible rating within a given criterion.
- Rarely do scores exceed 85 on a given criterion. Those that do are truly exceptional.
Your one sentence reasoning should include both a positive and negative aspect of the idea.`,
		strings.TrimRight(lines.String(), "\n"))
}

func evaluatePrompt(problemStatement, constraints, idea string, criteria []problem.Criterion) string {
	var format strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&format, "%s Reasoning: <your reasoning in one sentence>\n%s Score: <score>\n", c.Name, c.Name)
	}
	var b strings.Builder
	b.WriteString(timestampHeader())
	fmt.Fprintf(&b, `Use the following Problem Statement and Constraints to evaluate the following idea.

Problem Statement:
%s

Constraints:
%s

Idea to Evaluate:
%s

Respond in the following format:

%s`,
		problemStatement, constraints, idea, strings.TrimRight(format.String(), "\n"))
	return b.String()
}

package proposal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error
	prompt   string
	deadline bool
}

func (g *fakeGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	_, g.deadline = ctx.Deadline()
	return g.response, g.err
}

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDrafter(gen Generator) *Drafter {
	d := NewDrafter(gen, 5*time.Second, nil)
	d.now = func() time.Time { return fixedNow }
	return d
}

const validOutput = `{
  "projectTitle": "Bakery website",
  "projectDescription": "A storefront with online ordering.",
  "milestones": [
    {"title": "Design", "dueDate": "2026-03-20", "description": "Mockups", "amount": 400},
    {"title": "Build", "dueDate": "2026-04-10", "description": "Implementation", "amount": "$1,200"},
    {"title": "Launch", "dueDate": "2026-04-20T12:00:00Z", "description": "Go live", "amount": 300.5}
  ]
}`

func TestGenerateParsesValidOutput(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n" + validOutput + "\n```"}
	proposal, err := newTestDrafter(gen).Generate(context.Background(), "I need a site for my bakery")
	require.NoError(t, err)

	assert.Equal(t, "Bakery website", proposal.ProjectTitle)
	require.Len(t, proposal.Milestones, 3)
	assert.Equal(t, Amount(1200), proposal.Milestones[1].Amount)
	assert.Equal(t, Amount(300.5), proposal.Milestones[2].Amount)

	assert.Contains(t, gen.prompt, "I need a site for my bakery")
	assert.Contains(t, gen.prompt, "2026-03-10")
	assert.True(t, gen.deadline, "timeout applied to the upstream call")
}

func TestGenerateRejectsEmptyMessage(t *testing.T) {
	gen := &fakeGenerator{response: validOutput}
	_, err := newTestDrafter(gen).Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, gen.prompt, "no upstream call for empty input")
}

func TestGenerateWrapsUpstreamError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err := newTestDrafter(gen).Generate(context.Background(), "build me an app")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestGenerateRejectsInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":                      "sorry, I cannot help",
		"missing title":                 strings.Replace(validOutput, `"Bakery website"`, `""`, 1),
		"too few":                       `{"projectTitle":"t","projectDescription":"d","milestones":[{"title":"a","dueDate":"2026-04-01","amount":1}]}`,
		"negative amount":               strings.Replace(validOutput, `"amount": 400`, `"amount": -1`, 1),
		"past due date":                 strings.Replace(validOutput, `"2026-03-20"`, `"2026-03-01"`, 1),
		"bad due date":                  strings.Replace(validOutput, `"2026-03-20"`, `"next week"`, 1),
		"unparsable money":              strings.Replace(validOutput, `"$1,200"`, `"lots"`, 1),
		"nan amount":                    strings.Replace(validOutput, `"$1,200"`, `"NaN"`, 1),
		"inf amount":                    strings.Replace(validOutput, `"$1,200"`, `"Inf"`, 1),
		"negative inf":                  strings.Replace(validOutput, `"$1,200"`, `"-Infinity"`, 1),
		"missing amount":                strings.Replace(validOutput, `, "amount": 400`, ``, 1),
		"null amount":                   strings.Replace(validOutput, `"amount": 400`, `"amount": null`, 1),
		"empty milestone description":   strings.Replace(validOutput, `"Mockups"`, `"  "`, 1),
		"missing milestone description": strings.Replace(validOutput, `"description": "Mockups", `, ``, 1),
	}
	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestDrafter(&fakeGenerator{response: output}).Generate(context.Background(), "anything")
			assert.ErrorIs(t, err, ErrGeneration)
		})
	}
}

func TestDueDateTodayCountsAsEndOfDay(t *testing.T) {
	output := strings.Replace(validOutput, `"2026-03-20"`, `"2026-03-10"`, 1)
	_, err := newTestDrafter(&fakeGenerator{response: output}).Generate(context.Background(), "anything")
	assert.NoError(t, err)
}

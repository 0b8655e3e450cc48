package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okkerlund/strata/llm"
)

// fakeProvider returns scripted chat responses.
type fakeProvider struct {
	content string
	err     error
	calls   int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

const validPayload = `{
	"entities": [
		{"name": "Audit Committee", "type": "GOVERNANCE", "description": "Board committee", "salience": "CORE"},
		{"name": "Annual Report", "type": "CONCEPT", "description": "Yearly filing", "salience": "SUPPORTING"}
	],
	"relationships": [
		{"source": "Audit Committee", "target": "Annual Report", "type": "DEFINES", "description": "reviews and approves"}
	]
}`

// ---------------------------------------------------------------------------
// extractJSON
// ---------------------------------------------------------------------------

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"bare object", `{"entities": []}`, true},
		{"code fence", "```json\n{\"entities\": []}\n```", true},
		{"leading prose", "Here is the result:\n{\"entities\": []}", true},
		{"no json", "I could not find any entities.", false},
	}
	for _, c := range cases {
		got, err := extractJSON(c.in)
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error, got %q", c.name, got)
		}
		if c.ok && !strings.HasPrefix(got, "{") {
			t.Errorf("%s: result not a JSON object: %q", c.name, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Validation and cleaning
// ---------------------------------------------------------------------------

func TestEntityValidate(t *testing.T) {
	good := Entity{Name: "Board", Type: "GOVERNANCE", Salience: "CORE"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid entity rejected: %v", err)
	}

	bad := []Entity{
		{Name: "", Type: "GOVERNANCE", Salience: "CORE"},
		{Name: "Board", Type: "COMMITTEE", Salience: "CORE"},
		{Name: "Board", Type: "GOVERNANCE", Salience: "CRITICAL"},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Errorf("invalid entity %d accepted", i)
		}
	}
}

func TestRelationshipValidate(t *testing.T) {
	good := Relationship{Source: "A", Target: "B", Type: "REFERS_TO"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid relationship rejected: %v", err)
	}
	bad := Relationship{Source: "A", Target: "B", Type: "MENTIONS"}
	if err := bad.Validate(); err == nil {
		t.Error("edge-reserved relationship type accepted")
	}
}

func TestResultValidateCaps(t *testing.T) {
	res := Result{}
	for i := 0; i <= MaxEntities; i++ {
		res.Entities = append(res.Entities, Entity{Name: "e", Type: "OTHER", Salience: "CORE"})
	}
	if err := res.Validate(); err == nil {
		t.Error("entity cap not enforced")
	}
}

func TestClean(t *testing.T) {
	res := &Result{
		Entities: []Entity{
			{Name: "  The   Board ", Type: "GOVERNANCE", Salience: "CORE"},
			{Name: "the board", Type: "GOVERNANCE", Salience: "SUPPORTING"}, // dup, case-insensitive
			{Name: "   ", Type: "OTHER", Salience: "CORE"},
			{Name: "CEO", Type: "PERSON", Salience: "IMPORTANT"},
		},
		Relationships: []Relationship{
			{Source: "The Board", Target: "CEO", Type: "ASSOCIATED_WITH"},
			{Source: "CEO", Target: "ceo", Type: "REFERS_TO"}, // self
			{Source: "", Target: "CEO", Type: "REFERS_TO"},    // dangling
		},
	}

	Clean(res)

	if len(res.Entities) != 2 {
		t.Fatalf("expected 2 entities after cleaning, got %d", len(res.Entities))
	}
	if res.Entities[0].Name != "The Board" {
		t.Errorf("whitespace not collapsed: %q", res.Entities[0].Name)
	}
	if len(res.Relationships) != 1 {
		t.Fatalf("expected 1 relationship after cleaning, got %d", len(res.Relationships))
	}
}

// ---------------------------------------------------------------------------
// LLMExtractor
// ---------------------------------------------------------------------------

func TestExtractValidResponse(t *testing.T) {
	primary := &fakeProvider{content: validPayload}
	x := NewLLMExtractor(primary, nil, "test-model")

	res, err := x.Extract(context.Background(), "chunk text", "Test Charter")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Entities) != 2 || len(res.Relationships) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractMalformedJSONIsError(t *testing.T) {
	primary := &fakeProvider{content: "sorry, no JSON today"}
	x := NewLLMExtractor(primary, nil, "test-model")

	if _, err := x.Extract(context.Background(), "chunk text", ""); err == nil {
		t.Fatal("malformed response did not fail the extraction")
	}
}

func TestExtractInvalidContractIsError(t *testing.T) {
	primary := &fakeProvider{content: `{"entities": [{"name": "X", "type": "WIDGET", "salience": "CORE"}], "relationships": []}`}
	x := NewLLMExtractor(primary, nil, "test-model")

	if _, err := x.Extract(context.Background(), "chunk text", ""); err == nil {
		t.Fatal("contract-violating entity type did not fail the extraction")
	}
}

func TestExtractFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{err: errors.New("rate limited")}
	fallback := &fakeProvider{content: validPayload}
	x := NewLLMExtractor(primary, fallback, "test-model")

	res, err := x.Extract(context.Background(), "chunk text", "")
	if err != nil {
		t.Fatalf("fallback not used: %v", err)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("unexpected result via fallback: %+v", res)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("call counts: primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestExtractBothProvidersFail(t *testing.T) {
	primary := &fakeProvider{err: errors.New("down")}
	fallback := &fakeProvider{err: errors.New("also down")}
	x := NewLLMExtractor(primary, fallback, "test-model")

	if _, err := x.Extract(context.Background(), "chunk text", ""); err == nil {
		t.Fatal("expected error when both providers fail")
	}
}

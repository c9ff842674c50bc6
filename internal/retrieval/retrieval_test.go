package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

func TestRetrieveFormatsSections(t *testing.T) {
	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"data":[
			{"filename":"templates/products.twig","score":0.91,"content":[{"text":"first chunk"},{"text":"second chunk"}]},
			{"filename":"jobs/AtdwSync.php","score":0.45,"content":[{"text":"sync code"}]}
		]}`)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Corpus: "roam-code"}, zap.NewNop())
	out := client.Retrieve(context.Background(), core.ParsedIntent{
		Domain:      core.DomainPageComponent,
		RawQuestion: "why is the kayak tour missing",
	}, "")

	want := "--- templates/products.twig (score: 0.91) ---\n" +
		"first chunk\nsecond chunk\n\n" +
		"--- jobs/AtdwSync.php (score: 0.45) ---\n" +
		"sync code"
	assert.Equal(t, want, out)

	assert.True(t, got.RewriteQuery)
	assert.Equal(t, 10, got.TopK)
	assert.True(t, got.Reranking)
	assert.InDelta(t, 0.2, got.ScoreThreshold, 0.0001)
	assert.Equal(t, "roam-code", got.Corpus)
}

func TestRetrieveQueryComposition(t *testing.T) {
	tests := []struct {
		name     string
		intent   core.ParsedIntent
		tenant   string
		contains []string
	}{
		{
			name: "import domain",
			intent: core.ParsedIntent{
				Domain:      core.DomainAtdwImport,
				RawQuestion: "why was this product not imported",
			},
			contains: []string{"why was this product not imported", "ATDW product import"},
		},
		{
			name: "component domain names the component",
			intent: core.ParsedIntent{
				Domain:        core.DomainPageComponent,
				ComponentType: "gallery",
				RawQuestion:   "why is this here",
			},
			contains: []string{"How does the gallery component work"},
		},
		{
			name: "component domain defaults to products",
			intent: core.ParsedIntent{
				Domain:      core.DomainPageComponent,
				RawQuestion: "why is this here",
			},
			contains: []string{"How does the products component work"},
		},
		{
			name:     "tenant hint",
			intent:   core.ParsedIntent{Domain: core.DomainGeneral, RawQuestion: "how do pages build"},
			tenant:   "visitnsw",
			contains: []string{"site theme: visitnsw"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := buildQuery(tt.intent, tt.tenant)
			for _, want := range tt.contains {
				assert.Contains(t, query, want)
			}
		})
	}
}

func TestRetrieveSwallowsFailures(t *testing.T) {
	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer errServer.Close()

	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer badJSON.Close()

	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable.Close()

	intent := core.ParsedIntent{Domain: core.DomainGeneral, RawQuestion: "hello"}
	for name, url := range map[string]string{
		"server error": errServer.URL,
		"bad json":     badJSON.URL,
		"unreachable":  unreachable.URL,
	} {
		client := NewClient(Config{URL: url}, zap.NewNop())
		assert.Empty(t, client.Retrieve(context.Background(), intent, ""), name)
	}
}

func TestRetrieveWithoutURL(t *testing.T) {
	client := NewClient(Config{}, zap.NewNop())
	assert.Empty(t, client.Retrieve(context.Background(), core.ParsedIntent{RawQuestion: "hi"}, ""))
}

func TestRetrieveEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL}, zap.NewNop())
	assert.Empty(t, client.Retrieve(context.Background(), core.ParsedIntent{RawQuestion: "hi"}, ""))
}

package search

import (
	"context"
	"strings"
)

// StaticLibrary serves curated per-category fallback results when live
// search is unavailable. Research that falls back here is recorded as
// recovered so the session can still complete.
type StaticLibrary struct {
	byCategory map[string][]Result
}

// NewStaticLibrary creates a library with the built-in catalog.
// Categories match the ones analysis assigns to gaps.
func NewStaticLibrary() *StaticLibrary {
	return &StaticLibrary{byCategory: defaultCatalog()}
}

// Search implements Searcher. Unknown categories get the generic set.
func (l *StaticLibrary) Search(_ context.Context, q Query) ([]Result, error) {
	results, ok := l.byCategory[strings.ToLower(q.Category)]
	if !ok {
		results = l.byCategory["general"]
	}
	out := make([]Result, len(results))
	copy(out, results)
	return out, nil
}

func defaultCatalog() map[string][]Result {
	return map[string][]Result{
		"database": {
			{Title: "PostgreSQL", URL: "https://www.postgresql.org/docs/", Snippet: "Mature relational database with strong SQL compliance, JSONB, and a large extension ecosystem.", Metrics: map[string]float64{"github_stars": 15000, "years_active": 28}},
			{Title: "MySQL", URL: "https://dev.mysql.com/doc/", Snippet: "Widely deployed relational database with broad hosting support.", Metrics: map[string]float64{"github_stars": 10500, "years_active": 29}},
			{Title: "SQLite", URL: "https://sqlite.org/docs.html", Snippet: "Embedded zero-configuration SQL database, ideal for single-node deployments.", Metrics: map[string]float64{"years_active": 24}},
		},
		"authentication": {
			{Title: "Auth0", URL: "https://auth0.com/docs", Snippet: "Hosted identity platform with OAuth2, SAML, and social login.", Metrics: map[string]float64{"market_share": 0.18}},
			{Title: "Keycloak", URL: "https://www.keycloak.org/documentation", Snippet: "Self-hosted open-source identity and access management.", Metrics: map[string]float64{"github_stars": 22000}},
			{Title: "Firebase Auth", URL: "https://firebase.google.com/docs/auth", Snippet: "Managed authentication with SDKs for web and mobile.", Metrics: map[string]float64{"market_share": 0.22}},
		},
		"payments": {
			{Title: "Stripe", URL: "https://stripe.com/docs", Snippet: "Developer-focused payment processing with strong API documentation.", Metrics: map[string]float64{"market_share": 0.35}},
			{Title: "PayPal", URL: "https://developer.paypal.com/docs", Snippet: "Broadly recognized checkout with buyer protection.", Metrics: map[string]float64{"market_share": 0.40}},
			{Title: "Braintree", URL: "https://developer.paypal.com/braintree/docs", Snippet: "Payment gateway supporting cards, wallets, and recurring billing.", Metrics: map[string]float64{"market_share": 0.08}},
		},
		"hosting": {
			{Title: "AWS", URL: "https://docs.aws.amazon.com/", Snippet: "Full-breadth cloud platform with managed services for every tier.", Metrics: map[string]float64{"market_share": 0.31}},
			{Title: "Google Cloud", URL: "https://cloud.google.com/docs", Snippet: "Cloud platform with strong data and ML tooling.", Metrics: map[string]float64{"market_share": 0.12}},
			{Title: "Vercel", URL: "https://vercel.com/docs", Snippet: "Frontend-focused hosting with edge functions and preview deploys.", Metrics: map[string]float64{"market_share": 0.04}},
		},
		"messaging": {
			{Title: "RabbitMQ", URL: "https://www.rabbitmq.com/docs", Snippet: "Battle-tested message broker with flexible routing.", Metrics: map[string]float64{"github_stars": 12000}},
			{Title: "Kafka", URL: "https://kafka.apache.org/documentation/", Snippet: "Distributed event streaming for high-throughput pipelines.", Metrics: map[string]float64{"github_stars": 28000}},
			{Title: "NATS", URL: "https://docs.nats.io/", Snippet: "Lightweight cloud-native messaging system.", Metrics: map[string]float64{"github_stars": 15000}},
		},
		"general": {
			{Title: "Open-source option", URL: "https://opensource.org/", Snippet: "Prefer a widely adopted open-source library for this concern.", Metrics: nil},
			{Title: "Managed service", URL: "https://en.wikipedia.org/wiki/Software_as_a_service", Snippet: "A hosted offering trades cost for reduced operational burden.", Metrics: nil},
		},
	}
}

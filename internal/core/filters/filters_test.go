package filters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type fakeReasoner struct {
	reply     string
	err       error
	backedOff bool
	calls     int
}

func (f *fakeReasoner) Generate(ctx context.Context, prompt string, opts ...ports.GenerateOption) (string, error) {
	return f.GenerateStructured(ctx, prompt, opts...)
}

func (f *fakeReasoner) GenerateStructured(context.Context, string, ...ports.GenerateOption) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeReasoner) BackedOff() bool { return f.backedOff }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedNow() time.Time { return time.Date(2026, 3, 11, 15, 30, 0, 0, time.UTC) }

func TestParseRelativeDateRange(t *testing.T) {
	ref := fixedNow()
	cases := map[string]*domain.DateRange{
		"today":      {Start: day(2026, 3, 11), End: day(2026, 3, 11)},
		"Yesterday":  {Start: day(2026, 3, 10), End: day(2026, 3, 10)},
		"last week":  {Start: day(2026, 3, 2), End: day(2026, 3, 8)},
		"this month": {Start: day(2026, 3, 1), End: day(2026, 3, 31)},
		"last month": {Start: day(2026, 2, 1), End: day(2026, 2, 28)},
		"2025-12-24": {Start: day(2025, 12, 24), End: day(2025, 12, 24)},
		"2024-02":    {Start: day(2024, 2, 1), End: day(2024, 2, 29)},
	}
	for phrase, want := range cases {
		got := ParseRelativeDateRange(phrase, ref)
		require.NotNil(t, got, phrase)
		assert.True(t, got.Start.Equal(want.Start), "%s start: got %v want %v", phrase, got.Start, want.Start)
		assert.True(t, got.End.Equal(want.End), "%s end: got %v want %v", phrase, got.End, want.End)
	}

	assert.Nil(t, ParseRelativeDateRange("next fortnight", ref))
	assert.Nil(t, ParseRelativeDateRange("2024-13", ref))
}

func TestParseLastMonthAcrossYearBoundary(t *testing.T) {
	got := ParseRelativeDateRange("last month", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	require.NotNil(t, got)
	assert.Equal(t, day(2025, 12, 1), got.Start)
	assert.Equal(t, day(2025, 12, 31), got.End)
	assert.True(t, got.Contains(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, got.Contains(day(2026, 1, 1)))
}

func TestExtractFiltersReturnsNilsWithoutMentions(t *testing.T) {
	r := &fakeReasoner{}
	e := NewExtractor(r, WithClock(fixedNow))

	got := e.ExtractFilters(context.Background(), "what is the total amount due on the contract?")
	assert.Nil(t, got.Sender)
	assert.Nil(t, got.Receiver)
	assert.Nil(t, got.DateRange)
	assert.Zero(t, r.calls, "no cue means no reasoning call")
}

func TestExtractFiltersDoesNotTreatBareFromAsSender(t *testing.T) {
	e := NewExtractor(&fakeReasoner{reply: `{"sender":"Acme"}`}, WithClock(fixedNow))

	got := e.ExtractFilters(context.Background(), "find all invoices from Acme last month")
	assert.Nil(t, got.Sender)
	assert.Nil(t, got.Receiver)
	require.NotNil(t, got.DateRange)
	assert.Equal(t, day(2026, 2, 1), got.DateRange.Start)
	assert.Equal(t, day(2026, 2, 28), got.DateRange.End)
}

func TestExtractFiltersReadsExplicitMarkers(t *testing.T) {
	e := NewExtractor(nil, WithClock(fixedNow))

	got := e.ExtractFilters(context.Background(), "letters sent by John Smith to the tax office yesterday")
	require.NotNil(t, got.Sender)
	assert.Equal(t, "John Smith", *got.Sender)
	require.NotNil(t, got.DateRange)
	assert.Equal(t, day(2026, 3, 10), got.DateRange.Start)

	got = e.ExtractFilters(context.Background(), "anything addressed to billing@acme.com?")
	require.NotNil(t, got.Receiver)
	assert.Equal(t, "billing@acme.com", *got.Receiver)
}

func TestExtractFiltersUsesModelForUnparsedDates(t *testing.T) {
	r := &fakeReasoner{reply: `{"sender":null,"receiver":null,"date_phrase":null,"start_date":"2024-03-01","end_date":"2024-03-31"}`}
	e := NewExtractor(r, WithClock(fixedNow))

	got := e.ExtractFilters(context.Background(), "reports filed in March 2024")
	require.NotNil(t, got.DateRange)
	assert.Equal(t, day(2024, 3, 1), got.DateRange.Start)
	assert.Equal(t, day(2024, 3, 31), got.DateRange.End)
	assert.Equal(t, 1, r.calls)
}

func TestExtractFiltersDegradesOnReasonerFailure(t *testing.T) {
	for _, r := range []*fakeReasoner{
		{err: errors.New("boom")},
		{reply: "I think it was in march"},
		{backedOff: true},
	} {
		e := NewExtractor(r, WithClock(fixedNow))
		got := e.ExtractFilters(context.Background(), "reports filed in March 2024")
		assert.Equal(t, Filters{}, got)
	}
}

func TestBuildPlanForInvoiceScenario(t *testing.T) {
	e := NewExtractor(nil, WithClock(fixedNow))

	plan := e.BuildPlan(context.Background(), "find all invoices from Acme last month", nil, domain.QueryFilters{})
	assert.Nil(t, plan.Sender)
	assert.Nil(t, plan.Receiver)
	assert.Contains(t, plan.TypeFilters, "invoice")
	assert.Contains(t, plan.BoostTerms, "bill")
	assert.Contains(t, plan.Terms, "acme")
	assert.NotContains(t, plan.Terms, "month")
	assert.Contains(t, plan.Entities, domain.Entity{Kind: domain.EntityOrganization, Value: "Acme"})
	require.NotNil(t, plan.DateRange)
	assert.Equal(t, day(2026, 2, 1), plan.DateRange.Start)
}

func TestBuildPlanKeepsUnknownTypesVerbatimAndAppliesCallerFilters(t *testing.T) {
	e := NewExtractor(nil, WithClock(fixedNow))
	start := day(2025, 1, 1)

	plan := e.BuildPlan(context.Background(), "show the blueprints",
		[]domain.Entity{{Kind: domain.EntityType, Value: "Blueprint"}, {Kind: domain.EntityCategory, Value: "Engineering"}},
		domain.QueryFilters{Sender: "Jane Doe", Type: "bills", DateStart: &start},
	)
	assert.Contains(t, plan.TypeFilters, "blueprint")
	assert.Contains(t, plan.TypeFilters, "invoice")
	assert.Contains(t, plan.CategoryFilters, "engineering")
	require.NotNil(t, plan.Sender)
	assert.Equal(t, "Jane Doe", *plan.Sender)
	require.NotNil(t, plan.DateRange)
	assert.Equal(t, start, plan.DateRange.Start)
	assert.True(t, plan.DateRange.Contains(day(2030, 6, 1)))
}

func TestLoadSynonymsMergesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("invoice:\n  - pro forma\npermit:\n  - building permit\n"), 0o600))

	table, err := LoadSynonyms(path)
	require.NoError(t, err)
	assert.Contains(t, table["invoice"], "pro forma")
	assert.Contains(t, table["invoice"], "bill")
	assert.Equal(t, []string{"invoice"}, table.Match("any pro forma from them?"))
	assert.Equal(t, "permit", table.Canonical("permit"))
	assert.Equal(t, "invoice", table.Canonical("Receipt"))
	assert.Equal(t, "blueprint", table.Canonical("Blueprint"))
}

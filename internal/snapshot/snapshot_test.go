package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleListing = `URL: https://app.example.com/#/settings
TITLE: Settings
ELEMENTS:
[0] <a> [Sidebar] Dashboard
[1] <a> [Sidebar] Settings [Active]
[2] <input> Email Address (value: "bob@example.com") {name=email}
[3] <select> Country (value: "US") {id=country-select data-testid=country}
[4] <button> Save Changes
[5] <button> Delete Account
[12] <button> Submit
`

func TestParse(t *testing.T) {
	idx := Parse(sampleListing)
	require.Equal(t, 7, idx.Len())

	el, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "a", el.Tag)
	assert.Equal(t, "Settings", el.Text)
	assert.True(t, el.Active)
	assert.Equal(t, []string{"Sidebar"}, el.Regions)

	el, ok = idx.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "Email Address", el.Text)
	assert.True(t, el.HasValue)
	assert.Equal(t, "bob@example.com", el.Value)
	assert.Equal(t, "email", el.Attrs["name"])

	el, ok = idx.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, "country-select", el.Attrs["id"])
	assert.Equal(t, "country", el.Attrs["data-testid"])

	_, ok = idx.Lookup(99)
	assert.False(t, ok)
}

func TestParseIgnoresGarbage(t *testing.T) {
	idx := Parse("random prose\nno elements here\n- [ ] checkbox markdown")
	assert.Zero(t, idx.Len())
	assert.Equal(t, EmptyFingerprint, idx.Fingerprint())
}

func TestFingerprintStructuralEquality(t *testing.T) {
	a := Parse("[0] <a> Home\n[1] <button> Save\n[2] <input> Name (value: \"x\")")
	b := Parse("[0] <a> Away [Active]\n[1] <button> Discard\n[2] <input> Other (value: \"y\")")
	c := Parse("[0] <a> Home\n[1] <input> Name\n[2] <button> Save")

	// Same tag order, different text and state: same digest.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	// Different tag order: different digest.
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestFingerprintEmpty(t *testing.T) {
	assert.Equal(t, EmptyFingerprint, Fingerprint(""))
	assert.Equal(t, EmptyFingerprint, Fingerprint("URL: x\nTITLE: y"))
}

func TestFindByDescription(t *testing.T) {
	idx := Parse(sampleListing)

	tests := []struct {
		desc   string
		wantID int
		found  bool
	}{
		{"Submit", 12, true},
		{"submit", 12, true},
		{"save", 4, true},
		{"[Sidebar] Dashboard", 0, true},
		{"Email", 2, true},
		{"Nonexistent Widget", 0, false},
		{"", 0, false},
		{"[Active]", 0, false},
	}
	for _, tt := range tests {
		id, ok := idx.FindByDescription(tt.desc)
		assert.Equal(t, tt.found, ok, "desc=%q", tt.desc)
		if tt.found {
			assert.Equal(t, tt.wantID, id, "desc=%q", tt.desc)
		}
	}
}

func TestResolveIdentifier(t *testing.T) {
	idx := Parse(sampleListing)

	assert.Equal(t, "12", idx.ResolveIdentifier("12"))
	assert.Equal(t, "3", idx.ResolveIdentifier("country-select"))
	assert.Equal(t, "3", idx.ResolveIdentifier("country"))
	assert.Equal(t, "2", idx.ResolveIdentifier("email"))
	// Unresolvable symbolic references fall through verbatim.
	assert.Equal(t, "button-15", idx.ResolveIdentifier("button-15"))
}

func TestVerify(t *testing.T) {
	idx := Parse(sampleListing)

	text, ok := idx.Verify("12")
	require.True(t, ok)
	assert.Equal(t, "Submit", text)

	_, ok = idx.Verify("99")
	assert.False(t, ok)
	_, ok = idx.Verify("button-15")
	assert.False(t, ok)
}

func TestIsSelect(t *testing.T) {
	idx := Parse(sampleListing)
	assert.True(t, idx.IsSelect("3"))
	assert.False(t, idx.IsSelect("4"))
	assert.False(t, idx.IsSelect("nope"))
}

func TestSatisfied(t *testing.T) {
	idx := Parse(sampleListing)

	// Sidebar link carries [Active] but sits in a nav region: never satisfied.
	assert.False(t, idx.Satisfied("Settings", "click", ""))

	// Select holding the target value, case-insensitive.
	assert.True(t, idx.Satisfied("Country", "select", "us"))
	assert.False(t, idx.Satisfied("Country", "select", "DE"))

	// Typed value is matched exactly.
	assert.True(t, idx.Satisfied("Email Address", "type", "bob@example.com"))
	assert.False(t, idx.Satisfied("Email Address", "type", "BOB@EXAMPLE.COM"))

	// Plain button without state markers.
	assert.False(t, idx.Satisfied("Submit", "click", ""))
}

func TestSatisfiedActiveOutsideNav(t *testing.T) {
	idx := Parse("[4] <button> Billing Tab [Active]")
	assert.True(t, idx.Satisfied("Billing Tab", "click", ""))
	// Idempotent on an unchanged snapshot.
	assert.True(t, idx.Satisfied("Billing Tab", "click", ""))
}

func TestElementStringRoundTrip(t *testing.T) {
	in := Element{
		ID:       7,
		Tag:      "select",
		Text:     "Country",
		Value:    "US",
		HasValue: true,
		Attrs:    map[string]string{"id": "country-select"},
	}
	idx := Parse(in.String())
	require.Equal(t, 1, idx.Len())
	out, ok := idx.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, "country-select", out.Attrs["id"])
}

func TestExtractDigits(t *testing.T) {
	assert.Equal(t, "15", ExtractDigits("button-15"))
	assert.Equal(t, "7", ExtractDigits("7"))
	assert.Equal(t, "12", ExtractDigits("id 12 of 30"))
	assert.Equal(t, "", ExtractDigits("none"))
}

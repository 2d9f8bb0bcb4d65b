package portal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, page string) *html.Node {
	t.Helper()
	doc, err := parseDoc(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestFindValidationMessage(t *testing.T) {
	doc := mustParse(t, `<html><body>
<span class="field-validation-error">The Email field is required.</span>
</body></html>`)
	assert.Equal(t, "The Email field is required.", findValidationMessage(doc))

	doc = mustParse(t, `<html><body><p>all good</p></body></html>`)
	assert.Equal(t, "", findValidationMessage(doc))
}

func TestFindAccountEntries(t *testing.T) {
	doc := mustParse(t, dashboardPage)
	entries := findAccountEntries(doc)
	require.Len(t, entries, 2)

	assert.Equal(t, "Account number: 111111", entries[0].number)
	assert.Equal(t, 0, entries[0].electricityMarkers)

	assert.Equal(t, "222222", entries[1].number)
	assert.Equal(t, 1, entries[1].electricityMarkers)
	assert.Equal(t, map[string]string{
		"accountId": "elec-2",
		"flowToken": "ft-9",
	}, entries[1].eventFields)
}

package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordIDPrefersPageURL(t *testing.T) {
	t.Parallel()

	a := ExtractedRecord{
		Data:      Record{"name": "Jane Doe", "email": "JANE@uni.edu", "page_url": "https://uni.edu/people/jane"},
		SourceURL: "https://uni.edu/people",
	}
	b := ExtractedRecord{
		Data:      Record{"name": "  jane doe ", "email": "jane@uni.edu", "page_url": "https://uni.edu/people/jane"},
		SourceURL: "https://uni.edu/people?page=2",
	}
	assert.Equal(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 16)
}

func TestRecordIDFallsBackToNameAndEmail(t *testing.T) {
	t.Parallel()

	a := ExtractedRecord{Data: Record{"name": "Jane Doe", "email": "Jane@Uni.edu"}, SourceURL: "https://a"}
	b := ExtractedRecord{Data: Record{"name": " jane doe", "email": "jane@uni.edu "}, SourceURL: "https://b"}
	c := ExtractedRecord{Data: Record{"name": "John Roe"}, SourceURL: "https://a"}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestRecordIDFallsBackToSourceURL(t *testing.T) {
	t.Parallel()

	a := ExtractedRecord{Data: Record{}, SourceURL: "https://uni.edu/x"}
	b := ExtractedRecord{Data: Record{"name": "   "}, SourceURL: "https://uni.edu/x"}
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, shortHash("https://uni.edu/x"), a.ID())
}

func TestSchemaRequiredFields(t *testing.T) {
	t.Parallel()

	s := Schema{Fields: []FieldSchema{
		{Name: "name", Type: FieldString},
		{Name: "email", Type: FieldEmailOpt},
		{Name: "age", Type: FieldInt},
	}}
	assert.True(t, s.IsRequired("name"))
	assert.False(t, s.IsRequired("email"))
	assert.False(t, s.IsRequired("missing"))
	assert.Equal(t, []string{"name", "email", "age"}, s.Names())
	assert.Equal(t, []string{"age"}, s.MissingRequired(Record{"name": "Jane"}))
	assert.Equal(t, map[string]string{"name": "str", "email": "email?", "age": "int"}, s.Types())
}

func TestFieldType(t *testing.T) {
	t.Parallel()

	assert.True(t, FieldURLOpt.Optional())
	assert.Equal(t, FieldURL, FieldURLOpt.Base())
	assert.True(t, FieldBoolOpt.Valid())
	assert.False(t, FieldType("date").Valid())
}

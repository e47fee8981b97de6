package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	families := c.Families()
	require.NotEmpty(t, families)
	require.Equal(t, "GPT", families[0].ID)

	for _, f := range families {
		def, ok := c.DefaultSubModel(f.ID)
		require.True(t, ok)
		require.True(t, c.Contains(f.ID, def), "default of %s must belong to it", f.ID)
	}
}

func TestParse_DefaultsToFirstSubModel(t *testing.T) {
	c, err := Parse([]byte(`
families:
  - id: A
    subModels:
      - id: a1
      - id: a2
`))
	require.NoError(t, err)
	def, ok := c.DefaultSubModel("A")
	require.True(t, ok)
	require.Equal(t, "a1", def)

	f, ok := c.Family("A")
	require.True(t, ok)
	require.Equal(t, "A", f.Name)
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: `families: []`, want: "no families"},
		{name: "bad yaml", doc: `families: [`, want: "decode"},
		{name: "missing id", doc: "families:\n  - subModels: [{id: x}]", want: "id must not be empty"},
		{name: "no sub-models", doc: "families:\n  - id: A", want: "no sub-models"},
		{name: "duplicate family", doc: "families:\n  - id: A\n    subModels: [{id: a}]\n  - id: A\n    subModels: [{id: b}]", want: "duplicate family"},
		{name: "shared sub-model", doc: "families:\n  - id: A\n    subModels: [{id: x}]\n  - id: B\n    subModels: [{id: x}]", want: "listed by"},
		{name: "foreign default", doc: "families:\n  - id: A\n    default: z\n    subModels: [{id: a}]", want: "not a sub-model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestContainsAndFamilyOf(t *testing.T) {
	c, err := New([]Family{
		{ID: "A", SubModels: []SubModel{{ID: "a1"}, {ID: "a2", Premium: true}}},
		{ID: "B", SubModels: []SubModel{{ID: "b1"}}},
	})
	require.NoError(t, err)

	require.True(t, c.Contains("A", "a2"))
	require.False(t, c.Contains("A", "b1"))
	require.False(t, c.Contains("", "a1"))

	fam, ok := c.FamilyOf("b1")
	require.True(t, ok)
	require.Equal(t, "B", fam)

	require.Equal(t, []string{"a1", "a2", "b1"}, c.ModelIDs())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("families:\n  - id: A\n    subModels: [{id: a1}]\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	_, ok := c.Family("A")
	require.True(t, ok)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFamilies_ReturnsCopy(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	fams := c.Families()
	fams[0].ID = "mutated"
	again := c.Families()
	require.NotEqual(t, "mutated", again[0].ID)
}

package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `[
  { "stage": "Intake", "required_docs": [], "target_days": 2 },
  { "stage": "Preauthorization (PAR)", "required_docs": ["F2F","PT_EVAL"], "target_days": 7 },
  { "stage": "Delivered", "required_docs": [], "target_days": null }
]`

const catalogYAML = `
- stage: Intake
  target_days: 2
- stage: Preauthorization (PAR)
  required_docs: [F2F, PT_EVAL]
  target_days: 7
- stage: Delivered
`

func TestParseCatalog_JSON(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogJSON), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Intake", DefaultPARStage, "Delivered"}, c.Names())

	par, err := c.ByName(DefaultPARStage)
	require.NoError(t, err)
	assert.Equal(t, 1, par.Index)
	assert.Equal(t, []DocKey{"F2F", "PT_EVAL"}, par.RequiredDocs.Sorted())
	require.NotNil(t, par.TargetDays)
	assert.Equal(t, 7, *par.TargetDays)

	delivered, err := c.ByName("Delivered")
	require.NoError(t, err)
	assert.Nil(t, delivered.TargetDays)
}

func TestParseCatalog_YAMLMatchesJSON(t *testing.T) {
	fromJSON, err := ParseCatalog([]byte(catalogJSON), "json")
	require.NoError(t, err)
	fromYAML, err := ParseCatalog([]byte(catalogYAML), "yaml")
	require.NoError(t, err)
	assert.Equal(t, fromJSON.Stages(), fromYAML.Stages())
}

func TestParseCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty payload": ``,
		"empty list":    `[]`,
		"blank name":    `[{"stage":"  "}]`,
		"duplicate":     `[{"stage":"A"},{"stage":"A"}]`,
		"negative":      `[{"stage":"A","target_days":-1}]`,
		"not json":      `[{"stage":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(payload), "json")
			assert.Error(t, err)
		})
	}

	_, err := ParseCatalog([]byte(catalogJSON), "toml")
	assert.Error(t, err)
}

func TestLoadCatalog_ByExtension(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "workflow.json")
	yamlPath := filepath.Join(dir, "workflow.yml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(catalogJSON), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte(catalogYAML), 0o644))

	c, err := LoadCatalog(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	c, err = LoadCatalog(yamlPath)
	require.NoError(t, err)
	assert.True(t, c.Has("Delivered"))

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCatalog_IndexIsPositional(t *testing.T) {
	c := MustCatalog(Stage{Name: "B", Index: 9}, Stage{Name: "A", Index: 4})
	i, err := c.IndexOf("B")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Equal(t, "B", c.First().Name)

	_, err = c.IndexOf("C")
	assert.ErrorIs(t, err, ErrUnknownStage)
	_, err = c.ByName("C")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestCatalog_StagesAreCopies(t *testing.T) {
	c := MustCatalog(Stage{Name: "A", RequiredDocs: NewDocSet("F2F")})
	stages := c.Stages()
	stages[0].RequiredDocs.Add("HACK")
	stages[0].Name = "Z"

	a, err := c.ByName("A")
	require.NoError(t, err)
	assert.False(t, a.RequiredDocs.Has("HACK"))
	assert.Equal(t, []DocKey{"F2F"}, c.DocKeys().Sorted())
}

func TestNewCatalog_CopiesTargetDays(t *testing.T) {
	n := 3
	c := MustCatalog(Stage{Name: "A", TargetDays: &n})
	n = 10
	a, _ := c.ByName("A")
	assert.Equal(t, 3, *a.TargetDays)
}

package mapping_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/testutil"
)

func TestLoadYAML_SampleMapping(t *testing.T) {
	repo := testutil.SampleRepository(t)

	person := repo.MustClass("Person")
	assert.Equal(t, "person", person.Table)
	assert.Equal(t, []string{"id"}, person.PKColumnNames())

	dept, err := person.Field("dept")
	require.NoError(t, err)
	assert.Equal(t, mapping.FieldRelation, dept.Kind)
	assert.Equal(t, []string{"dept_id"}, dept.FKColumns)
	assert.Same(t, repo.MustClass("Department"), dept.Target)
	assert.Equal(t, "entity<Department>", dept.Type.String())

	status, err := person.Field("status")
	require.NoError(t, err)
	require.NotNil(t, status.Enum)
	assert.True(t, status.Enum.Ordinal)
	assert.Equal(t, 2, status.Enum.OrdinalOf("RETIRED"))
	assert.Equal(t, mapping.TypeInt, status.Column.Type)

	projects, err := person.Field("projects")
	require.NoError(t, err)
	assert.True(t, projects.IsToMany())
	assert.Equal(t, "person_project", projects.Table)
	assert.Equal(t, []string{"project_id"}, projects.InverseColumns)

	phones, err := person.Field("phones")
	require.NoError(t, err)
	assert.Equal(t, mapping.TypeMap, phones.Type.Code)
	assert.Equal(t, "kind", phones.KeyColumn.Name)

	addr, err := person.Field("address")
	require.NoError(t, err)
	assert.Equal(t, mapping.FieldEmbedded, addr.Kind)
	assert.True(t, addr.Embedded.Embeddable)
}

func TestLoadYAML_Inheritance(t *testing.T) {
	repo := testutil.SampleRepository(t)

	sports := repo.MustClass("SportsCar")
	vehicle := repo.MustClass("Vehicle")
	assert.Equal(t, mapping.StrategyJoined, sports.Strategy)
	assert.Equal(t, "sports_car", sports.Table)
	assert.Equal(t, []string{"id"}, sports.PKColumnNames())
	assert.True(t, sports.IsA(vehicle))

	chain := sports.SuperChain(vehicle)
	require.Len(t, chain, 3)
	assert.Equal(t, "Car", chain[1].Name)

	mk, err := sports.Field("make")
	require.NoError(t, err)
	assert.Same(t, vehicle, mk.Owner)

	dog := repo.MustClass("Dog")
	assert.Equal(t, "animal", dog.Table)
	assert.Equal(t, mapping.StrategySingleTable, dog.Strategy)
	require.NotNil(t, dog.Discriminator)
	assert.Equal(t, "kind", dog.Discriminator.Name)
	assert.Equal(t, []string{"ANIMAL", "CAT", "DOG"}, repo.MustClass("Animal").DiscriminatorValues(true))
	assert.Equal(t, []string{"DOG"}, dog.DiscriminatorValues(false))
}

func TestLoadYAML_CompoundKey(t *testing.T) {
	repo := testutil.SampleRepository(t)
	ship := repo.MustClass("Shipment")
	assert.Equal(t, []string{"carrier", "number"}, ship.PKColumnNames())
	assert.Equal(t, []string{"carrier", "number"}, ship.PKFields)

	f, err := repo.MustClass("Parcel").Field("shipment")
	require.NoError(t, err)
	assert.Equal(t, []string{"ship_carrier", "ship_number"}, f.FKColumns)
}

func TestClass_UnknownField(t *testing.T) {
	repo := testutil.SampleRepository(t)
	_, err := repo.MustClass("Person").Field("nmae")
	require.Error(t, err)
	assert.True(t, qerr.IsUser(err))
	assert.Equal(t, qerr.CodeUnknownField, qerr.CodeOf(err))

	_, err = repo.Class("Nobody")
	assert.Equal(t, qerr.CodeUnknownClass, qerr.CodeOf(err))
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key",
			doc:  "entities:\n  A:\n    tabel: a\n",
			want: "decoding YAML",
		},
		{
			name: "missing id",
			doc:  "entities:\n  A:\n    fields:\n      x: {type: int}\n",
			want: "id fields required",
		},
		{
			name: "unknown target",
			doc:  "entities:\n  A:\n    id: [id]\n    fields:\n      id: {type: long}\n      b: {relation: B, join: [b_id]}\n",
			want: `unknown entity "B"`,
		},
		{
			name: "join column count",
			doc: "entities:\n  A:\n    id: [id]\n    fields:\n      id: {type: long}\n      b: {relation: B, join: [x, y]}\n" +
				"  B:\n    id: [id]\n    fields:\n      id: {type: long}\n",
			want: "2 join columns for 1 key columns",
		},
		{
			name: "bad mapped_by",
			doc: "entities:\n  A:\n    id: [id]\n    fields:\n      id: {type: long}\n      bs: {collection: B, mapped_by: nope}\n" +
				"  B:\n    id: [id]\n    fields:\n      id: {type: long}\n",
			want: `mapped_by "nope"`,
		},
		{
			name: "inheritance cycle",
			doc:  "entities:\n  A:\n    extends: B\n  B:\n    extends: A\n",
			want: "inheritance cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mapping.LoadYAML("m.yaml", []byte(tt.doc))
			require.Error(t, err)
			var le *mapping.LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, "m.yaml", le.Path)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

const cueMapping = `
enums: Level: values: ["LOW", "HIGH"]

entities: {
	Team: {
		table: "team"
		id: ["id"]
		fields: {
			id: type:    "long"
			name: type:  "string"
			level: enum: "Level"
		}
	}
	Member: {
		table: "member"
		id: ["id"]
		fields: {
			id: type: "long"
			team: {relation: "Team", join: ["team_id"]}
		}
	}
}
`

func TestLoadCUE(t *testing.T) {
	repo, err := mapping.LoadCUE("m.cue", []byte(cueMapping))
	require.NoError(t, err)

	team := repo.MustClass("Team")
	level, err := team.Field("level")
	require.NoError(t, err)
	assert.Equal(t, mapping.TypeEnum, level.Type.Code)
	assert.False(t, level.Enum.Ordinal)
	assert.Equal(t, mapping.TypeString, level.Column.Type)

	rel, err := repo.MustClass("Member").Field("team")
	require.NoError(t, err)
	assert.Same(t, team, rel.Target)
}

func TestLoadCUE_SyntaxErrorHasPosition(t *testing.T) {
	_, err := mapping.LoadCUE("broken.cue", []byte("entities: {\n  A: table: \n}\n"))
	require.Error(t, err)
	var le *mapping.LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, err.Error(), "broken.cue:")
}

func TestLoadFile_ChoosesDecoderByExtension(t *testing.T) {
	dir := t.TempDir()
	cuePath := filepath.Join(dir, "m.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(cueMapping), 0o644))
	repo, err := mapping.LoadFile(cuePath)
	require.NoError(t, err)
	assert.Len(t, repo.Entities(), 2)

	yamlPath := filepath.Join(dir, "m.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(testutil.SampleMapping), 0o644))
	repo, err = mapping.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.NotEmpty(t, repo.Entities())

	_, err = mapping.LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestComparable(t *testing.T) {
	str := mapping.Of(mapping.TypeString)
	num := mapping.Of(mapping.TypeInt)
	enum := mapping.Type{Code: mapping.TypeEnum, Class: "Status"}

	assert.False(t, mapping.Comparable(str, num))
	assert.True(t, mapping.Comparable(num, mapping.Of(mapping.TypeDouble)))
	assert.True(t, mapping.Comparable(enum, str))
	assert.True(t, mapping.Comparable(enum, num))
	assert.False(t, mapping.Comparable(enum, mapping.Type{Code: mapping.TypeEnum, Class: "Level"}))
	assert.True(t, mapping.Comparable(mapping.Of(mapping.TypeUnknown), num))
	assert.Equal(t, mapping.TypeDouble, mapping.Promote(mapping.TypeInt, mapping.TypeDouble))
	assert.Equal(t, mapping.TypeLong, mapping.Promote(mapping.TypeLong, mapping.TypeInt))
}

package card

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := `id,name,type,cost,power,health,ability,description,rarity
cosmic_ray,Cosmic Ray,cosmic,2,3,0,direct_damage,"Deals 3 damage, instantly",common
pulsar,Pulsar,STELLAR,x,1,1,none,,COMMON
void,Void,DARK,1,1,1,none,,COMMON
cosmic_ray,Cosmic Ray Again,COSMIC,1,1,1,none,,COMMON
wisp,Wisp,NEBULA,1,1,1,,Quick,RARE
`
	records, skipped, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, Record{
		ID:          "cosmic_ray",
		Name:        "Cosmic Ray",
		Type:        "COSMIC",
		Cost:        2,
		Power:       3,
		Ability:     "direct_damage",
		Description: "Deals 3 damage, instantly",
		Rarity:      "COMMON",
	}, records[0])
	assert.Equal(t, "wisp", records[1].ID)

	require.Len(t, skipped, 3)
	var lines []int
	for _, e := range skipped {
		var re *RowError
		require.ErrorAs(t, e, &re)
		lines = append(lines, re.Line)
	}
	assert.Equal(t, []int{3, 4, 5}, lines)
	assert.Contains(t, skipped[2].Error(), "duplicate card id")

	catalog := NewCatalog(mustDefinitions(t, records))
	assert.Equal(t, 2, catalog.Len())
}

func TestReadCSVRejectsMalformedFiles(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, _, err = ReadCSV(strings.NewReader("id,name,kind,cost,power,health,ability,description,rarity\n"))
	assert.ErrorContains(t, err, "unexpected column")

	_, _, err = ReadCSV(strings.NewReader("id,name,type,cost,power,health,ability,description,rarity\na,b,c\n"))
	assert.Error(t, err)
}

func mustDefinitions(t *testing.T, records []Record) []Definition {
	t.Helper()
	defs := make([]Definition, 0, len(records))
	for _, r := range records {
		def, err := FromRecord(r)
		require.NoError(t, err)
		defs = append(defs, def)
	}
	return defs
}

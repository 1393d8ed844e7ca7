// Package bestiary is the static catalog of known monster names and
// their dex numbers. Unknown names are not an error; callers fall back
// to whatever the active settings snapshot recognizes.
package bestiary

import "strings"

var numbersByName = map[string]int{
	"Bulbasaur":  1,
	"Ivysaur":    2,
	"Venusaur":   3,
	"Charmander": 4,
	"Charmeleon": 5,
	"Charizard":  6,
	"Squirtle":   7,
	"Wartortle":  8,
	"Blastoise":  9,
	"Alakazam":   65,
	"Machamp":    68,
	"Victreebel": 71,
	"Golem":      76,
	"Muk":        89,
	"Gengar":     94,
	"Exeggutor":  103,
	"Rhydon":     112,
	"Magikarp":   129,
	"Gyarados":   130,
	"Lapras":     131,
	"Jolteon":    135,
	"Flareon":    136,
	"Snorlax":    143,
	"Articuno":   144,
	"Zapdos":     145,
	"Moltres":    146,
	"Dragonite":  149,
	"Mewtwo":     150,
	"Mew":        151,
	"Croconaw":   159,
	"Quilava":    156,
	"Bayleef":    153,
	"Ampharos":   181,
	"Espeon":     196,
	"Umbreon":    197,
	"Raikou":     243,
	"Entei":      244,
	"Suicune":    245,
	"Tyranitar":  248,
	"Lugia":      249,
	"Ho-Oh":      250,
	"Celebi":     251,
	"Breloom":    286,
	"Aggron":     306,
	"Absol":      359,
	"Walrein":    365,
	"Salamence":  373,
	"Metagross":  376,
	"Regirock":   377,
	"Regice":     378,
	"Registeel":  379,
	"Latias":     380,
	"Latios":     381,
	"Kyogre":     382,
	"Groudon":    383,
	"Rayquaza":   384,
	"Deoxys":     386,
}

// NumberByName resolves a monster name to its dex number. Lookup is
// case-insensitive; unknown names resolve to false without error.
func NumberByName(name string) (int, bool) {
	if number, ok := numbersByName[name]; ok {
		return number, true
	}
	for known, number := range numbersByName {
		if strings.EqualFold(known, name) {
			return number, true
		}
	}
	return 0, false
}

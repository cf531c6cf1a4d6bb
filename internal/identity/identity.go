package identity

import (
	"fmt"
	"math/rand/v2"
)

// DefaultAccent is assigned to notes persisted before accents were stored
// server-side.
const DefaultAccent = "from-[#4ACDF5] to-[#BC4AF8]"

var adjectives = []string{
	"Secret",
	"Silent",
	"Hidden",
	"Mystery",
	"Ghostly",
	"Quiet",
	"Masked",
	"Unknown",
	"Shadow",
}

var animals = []string{
	"Badger",
	"Fox",
	"Owl",
	"Squirrel",
	"Panda",
	"Cat",
	"Wolf",
	"Rabbit",
	"Koala",
	"Tiger",
}

var accents = []string{
	DefaultAccent,
	"from-[#F472B6] to-[#db2777]",
	"from-[#34D399] to-[#059669]",
	"from-[#FBBF24] to-[#D97706]",
	"from-[#818CF8] to-[#4F46E5]",
	"from-[#F87171] to-[#DC2626]",
}

// Generator produces display aliases and accent tags for new notes. Draws are
// independent per call; collisions between notes are expected, the alias is
// flavour rather than a handle.
type Generator struct {
	pick func(n int) int
}

// NewGenerator constructs a Generator backed by the shared math/rand source.
func NewGenerator() *Generator {
	return &Generator{pick: rand.IntN}
}

// NewGeneratorWithPicker constructs a Generator with an injected index picker.
func NewGeneratorWithPicker(pick func(n int) int) *Generator {
	return &Generator{pick: pick}
}

// Next returns a fresh alias and accent tag.
func (g *Generator) Next() (alias string, accent string) {
	adjective := adjectives[g.pick(len(adjectives))]
	animal := animals[g.pick(len(animals))]
	return fmt.Sprintf("%s %s", adjective, animal), accents[g.pick(len(accents))]
}

// Accents exposes the fixed palette for validation in tests and migrations.
func Accents() []string {
	palette := make([]string, len(accents))
	copy(palette, accents)
	return palette
}

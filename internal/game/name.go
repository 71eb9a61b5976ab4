package game

import "math/rand"

// GenerateName picks a human-readable room name from the word lists.
func GenerateName() string {
	return nameFrom(rand.Intn)
}

// nameFrom builds a name using the given picker, so tests can pin it.
func nameFrom(pick func(n int) int) string {
	return adjectives[pick(len(adjectives))] + " " + animals[pick(len(animals))]
}

// defaultSeatPicker is the production seat randomizer.
func defaultSeatPicker(n int) int {
	return rand.Intn(n)
}

var adjectives = []string{
	"Agile", "Amber", "Bold", "Brave", "Bright", "Calm", "Clever", "Crimson",
	"Curious", "Daring", "Dashing", "Eager", "Fierce", "Gentle", "Gleaming",
	"Golden", "Graceful", "Hasty", "Hidden", "Humble", "Jolly", "Keen",
	"Lively", "Loyal", "Lucky", "Mellow", "Mighty", "Nimble", "Noble",
	"Patient", "Proud", "Quiet", "Rapid", "Restless", "Rustic", "Sable",
	"Silent", "Sly", "Solemn", "Swift", "Tranquil", "Valiant", "Vivid",
	"Wandering", "Wild", "Wise",
}

var animals = []string{
	"Eagle", "Donkey", "Whale", "Weasel", "Goat", "Ox", "Bull", "Cow",
	"Duck", "Carp", "Cat", "Horse", "Deer", "Dog", "Elephant", "Falcon",
	"Ferret", "Fox", "Frog", "Hare", "Hedgehog", "Heron", "Ibex", "Jay",
	"Lark", "Lynx", "Magpie", "Marmot", "Mole", "Otter", "Owl", "Panther",
	"Pike", "Raven", "Robin", "Salmon", "Seal", "Sparrow", "Squirrel",
	"Stag", "Stoat", "Swan", "Tortoise", "Trout", "Viper", "Vole", "Wolf",
	"Wren",
}

package category

import "fmt"

// Built-in table versions. V1 is the set shipped with the first tagging tool;
// V2 is the material set used by current datasets and is the default.
const (
	V1 = "v1"
	V2 = "v2"

	DefaultVersion = V2
)

var builtins = map[string][]Entry{
	V1: {
		{Name: "Building", Display: "🏢 Building"},
		{Name: "Vehicle", Display: "🚗 Vehicle"},
		{Name: "Tree", Display: "🌳 Tree"},
		{Name: "Road", Display: "🛣️ Road"},
		{Name: "Person", Display: "🧍 Person"},
		{Name: "Other", Display: "❓ Other"},
	},
	V2: {
		{Name: "Wood", Display: "🪵 Wood"},
		{Name: "Glass", Display: "🪟 Glass"},
		{Name: "Metal", Display: "🔩 Metal"},
		{Name: "Plastic", Display: "🧴 Plastic"},
		{Name: "Paper", Display: "📄 Paper"},
		{Name: "Fabric", Display: "🧵 Fabric"},
		{Name: "Stone", Display: "🪨 Stone"},
		{Name: "Concrete", Display: "🧱 Concrete"},
		{Name: "Vegetation", Display: "🌿 Vegetation"},
		{Name: "Other", Display: "❓ Other"},
	},
}

// Builtin returns a built-in table by version.
func Builtin(version string) (*Table, error) {
	entries, ok := builtins[version]
	if !ok {
		return nil, fmt.Errorf("unknown built-in category version %q", version)
	}
	return New(version, entries)
}

// Default returns the default built-in table.
func Default() *Table {
	t, err := Builtin(DefaultVersion)
	if err != nil {
		panic(err)
	}
	return t
}

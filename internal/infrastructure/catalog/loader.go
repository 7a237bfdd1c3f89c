// Package catalog loads the achievement catalog and XP rule table from TOML.
// A default catalog is embedded in the binary; CATALOG_FILE overrides it.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gosimple/slug"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

//go:embed default_catalog.toml
var defaultCatalog []byte

// DefaultSource names the embedded catalog in errors and logs.
const DefaultSource = "embedded:default_catalog.toml"

// Catalog is a parsed and validated catalog file.
type Catalog struct {
	Source      string
	Definitions []achievement.Definition
	Rules       *progression.RuleBook
}

type file struct {
	Achievements []entry              `toml:"achievement"`
	XPRules      []progression.XPRule `toml:"xp_rules"`
}

type entry struct {
	ID             string `toml:"id"`
	Name           string `toml:"name"`
	Description    string `toml:"description"`
	Icon           string `toml:"icon"`
	Category       string `toml:"category"`
	ConditionType  string `toml:"condition_type"`
	ConditionValue int64  `toml:"condition_value"`
	RewardType     string `toml:"reward_type"`
	RewardData     string `toml:"reward_data"`
	Rarity         string `toml:"rarity"`
}

// Load reads path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog, DefaultSource)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data, path)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog, DefaultSource)
}

// Parse decodes and validates catalog data. Every problem is reported,
// not just the first. Unknown condition types are accepted as-is.
func Parse(data []byte, source string) (*Catalog, error) {
	var f file
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", source, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, shared.WrapError("catalog", "Parse", shared.ErrInvalidInput,
			source+": unknown keys "+strings.Join(keys, ", "), shared.ErrInvalidDefinition)
	}

	var problems []error
	seen := make(map[string]int, len(f.Achievements))
	defs := make([]achievement.Definition, 0, len(f.Achievements))

	for i, e := range f.Achievements {
		def := e.definition()
		if prev, dup := seen[def.ID]; dup && def.ID != "" {
			problems = append(problems, fmt.Errorf("achievement #%d: id %q already used by achievement #%d", i+1, def.ID, prev+1))
			continue
		}
		if err := def.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("achievement #%d: %w", i+1, err))
			continue
		}
		seen[def.ID] = i
		defs = append(defs, def)
	}

	rules := f.XPRules
	if len(rules) == 0 {
		rules = progression.DefaultXPRules()
	}
	book, err := progression.NewRuleBook(rules)
	if err != nil {
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid catalog %s: %w", source, errors.Join(problems...))
	}

	return &Catalog{
		Source:      source,
		Definitions: defs,
		Rules:       book,
	}, nil
}

func (e entry) definition() achievement.Definition {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		id = slug.Make(e.Name)
	}

	def := achievement.Definition{
		ID:             id,
		Name:           strings.TrimSpace(e.Name),
		Description:    e.Description,
		Icon:           e.Icon,
		Category:       achievement.Category(e.Category),
		ConditionType:  strings.TrimSpace(e.ConditionType),
		ConditionValue: e.ConditionValue,
		RewardType:     e.RewardType,
		Rarity:         achievement.Rarity(e.Rarity),
	}
	if e.RewardData != "" {
		def.RewardData = json.RawMessage(e.RewardData)
	}
	return def
}

package ruleset

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFiles embed.FS

// TurnPolicy decides who shoots next after a valid shot.
type TurnPolicy string

const (
	// TurnAlternate passes the turn after every shot, hit or miss.
	TurnAlternate TurnPolicy = "alternate"
	// TurnExtraOnHit lets the shooter keep the turn after a hit.
	TurnExtraOnHit TurnPolicy = "extra_turn_on_hit"
)

type Elo struct {
	Initial   int `yaml:"initial"`
	WinDelta  int `yaml:"win_delta"`
	LossDelta int `yaml:"loss_delta"`
}

// Rules is the per-deployment game configuration.
type Rules struct {
	BoardSize  int        `yaml:"board_size"`
	Fleet      []int      `yaml:"fleet"`
	TurnPolicy TurnPolicy `yaml:"turn_policy"`
	Elo        Elo        `yaml:"elo"`
}

// Default returns the embedded standard rules.
func Default() Rules {
	r, err := loadEmbedded()
	if err != nil {
		// embedded file is part of the build; failing here is a packaging bug
		panic(fmt.Sprintf("ruleset: embedded defaults: %v", err))
	}
	return r
}

// Load reads the embedded defaults and overlays path when given.
// Keys missing from the override keep their default values.
func Load(path string) (Rules, error) {
	r, err := loadEmbedded()
	if err != nil {
		return Rules{}, err
	}
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Rules{}, fmt.Errorf("read ruleset %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &r); err != nil {
			return Rules{}, fmt.Errorf("parse ruleset %s: %w", path, err)
		}
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func loadEmbedded() (Rules, error) {
	raw, err := fs.ReadFile(defaultFiles, "default.yaml")
	if err != nil {
		return Rules{}, fmt.Errorf("read embedded ruleset: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rules{}, fmt.Errorf("parse embedded ruleset: %w", err)
	}
	return r, nil
}

// Validate checks that the fleet fits on the board and the policy is known.
func (r Rules) Validate() error {
	if r.BoardSize < 1 || r.BoardSize > 26 {
		return fmt.Errorf("board_size must be within 1..26, got %d", r.BoardSize)
	}
	cells := 0
	for _, l := range r.Fleet {
		if l < 1 || l > r.BoardSize {
			return fmt.Errorf("ship length %d does not fit a %dx%d board", l, r.BoardSize, r.BoardSize)
		}
		cells += l
	}
	if cells > r.BoardSize*r.BoardSize {
		return errors.New("fleet covers more cells than the board has")
	}
	switch r.TurnPolicy {
	case TurnAlternate, TurnExtraOnHit:
	default:
		return fmt.Errorf("unknown turn_policy %q", r.TurnPolicy)
	}
	if r.Elo.Initial < 0 {
		return errors.New("elo.initial must not be negative")
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CorrectionTable is the quick tier's static lookup: misspelling -> fix.
// A coarse transposition/substitution dictionary, not a generative model.
type CorrectionTable struct {
	Entries map[string]string `yaml:"entries"`
}

// Homophones holds the known-homophone groups used by the passive detector's
// classification cascade and by confusion-pair upserts.
type Homophones struct {
	Groups [][]string `yaml:"groups"`
}

// builtinCorrectionTable covers the most common English transpositions and
// substitutions. A yaml file configured via correction_table_path extends or
// overrides it.
var builtinCorrectionTable = map[string]string{
	"teh":        "the",
	"hte":        "the",
	"adn":        "and",
	"nad":        "and",
	"taht":       "that",
	"thier":      "their",
	"recieve":    "receive",
	"seperate":   "separate",
	"definately": "definitely",
	"occured":    "occurred",
	"untill":     "until",
	"wich":       "which",
	"becuase":    "because",
	"beleive":    "believe",
	"freind":     "friend",
	"wierd":      "weird",
	"alot":       "a lot",
	"accross":    "across",
	"tommorow":   "tomorrow",
	"journy":     "journey",
}

var builtinHomophoneGroups = [][]string{
	{"their", "there", "they're"},
	{"your", "you're"},
	{"its", "it's"},
	{"to", "too", "two"},
	{"affect", "effect"},
	{"then", "than"},
	{"whose", "who's"},
	{"weather", "whether"},
	{"accept", "except"},
	{"lose", "loose"},
	{"principal", "principle"},
	{"complement", "compliment"},
	{"stationary", "stationery"},
	{"brake", "break"},
	{"peace", "piece"},
}

func LoadCorrectionTable(path string) (map[string]string, error) {
	table := make(map[string]string, len(builtinCorrectionTable))
	for k, v := range builtinCorrectionTable {
		table[k] = v
	}
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correction table: %w", err)
	}
	var ct CorrectionTable
	if err := yaml.Unmarshal(data, &ct); err != nil {
		return nil, fmt.Errorf("parse correction table yaml: %w", err)
	}
	for k, v := range ct.Entries {
		k = normalizeWord(k)
		if k != "" && strings.TrimSpace(v) != "" {
			table[k] = strings.TrimSpace(v)
		}
	}
	return table, nil
}

// HomophoneSet answers "are these two words a known homophone pair".
type HomophoneSet struct {
	groups map[string]int
}

func LoadHomophones(path string) (*HomophoneSet, error) {
	groups := builtinHomophoneGroups
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read homophones: %w", err)
		}
		var h Homophones
		if err := yaml.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("parse homophones yaml: %w", err)
		}
		groups = append(groups, h.Groups...)
	}

	set := &HomophoneSet{groups: make(map[string]int)}
	for i, group := range groups {
		for _, w := range group {
			set.groups[normalizeWord(w)] = i
		}
	}
	return set, nil
}

// ArePair reports whether a and b belong to the same homophone group.
func (h *HomophoneSet) ArePair(a, b string) bool {
	ga, okA := h.groups[normalizeWord(a)]
	gb, okB := h.groups[normalizeWord(b)]
	return okA && okB && ga == gb && normalizeWord(a) != normalizeWord(b)
}

// Contains reports whether the word appears in any homophone group.
func (h *HomophoneSet) Contains(w string) bool {
	_, ok := h.groups[normalizeWord(w)]
	return ok
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

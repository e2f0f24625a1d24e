package main

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/services/schemacache"
)

type retention struct {
	typeTag string
	days    int
}

// retentionByType collects the history retention of every type that keeps
// history, across the definitions at path. A type defined in several schemas
// keeps the longest retention.
func retentionByType(path string) ([]retention, error) {
	defs, err := schemacache.NewYAMLProvider(path, zap.NewNop()).LoadAll()
	if err != nil {
		return nil, err
	}
	days := make(map[string]int)
	for _, def := range defs {
		schema, err := schemacache.Build(def)
		if err != nil {
			return nil, err
		}
		for _, t := range schema.Types {
			if !t.HasHistory() {
				continue
			}
			days[t.Tag] = max(days[t.Tag], t.KeepHistoryDays)
		}
	}
	out := make([]retention, 0, len(days))
	for tag, d := range days {
		out = append(out, retention{typeTag: tag, days: d})
	}
	slices.SortFunc(out, func(a, b retention) int { return strings.Compare(a.typeTag, b.typeTag) })
	return out, nil
}

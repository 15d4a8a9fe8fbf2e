package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

// record is the persisted shape: one JSON document per wallet.
type record struct {
	Seeds      []seedRecord `json:"seeds"`
	PaidSeeds  []seedRecord `json:"paidSeeds"`
	TotalScore int64        `json:"totalScore"`
}

type seedRecord struct {
	Value string `json:"value"`
	Used  bool   `json:"used"`
	Score int64  `json:"score"`
}

// legacySeed accepts every shape older clients wrote: numeric values,
// fractional scores and the optional source/originalType tags.
type legacySeed struct {
	Value        json.RawMessage `json:"value"`
	Used         bool            `json:"used"`
	Score        json.Number     `json:"score"`
	Source       string          `json:"source"`
	OriginalType string          `json:"originalType"`
}

type legacyRecord struct {
	Seeds      []legacySeed `json:"seeds"`
	PaidSeeds  []legacySeed `json:"paidSeeds"`
	TotalScore json.Number  `json:"totalScore"`
}

// Encode serializes s to the persisted record format.
func Encode(s *Session) ([]byte, error) {
	rec := record{
		Seeds:      toRecords(s.Seeds),
		PaidSeeds:  toRecords(s.PaidSeeds),
		TotalScore: s.TotalScore,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	return data, nil
}

func toRecords(seeds []Seed) []seedRecord {
	out := make([]seedRecord, len(seeds))
	for i, s := range seeds {
		out[i] = seedRecord{Value: s.Value, Used: s.Used, Score: s.Score}
	}
	return out
}

// Decode parses a persisted record for wallet, upgrading legacy shapes.
// Entries that cannot be upgraded are dropped and described in warnings.
// An explicit tier tag on an entry wins over the array it was stored in.
// Duplicate values collapse to one entry, keeping any used state.
// TotalScore is recomputed from used seeds.
func Decode(wallet string, data []byte) (*Session, []string, error) {
	var raw legacyRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("session: decode: %w", err)
	}

	s := New(wallet)
	var warnings []string

	add := func(entries []legacySeed, arrayTier Tier) {
		for i, entry := range entries {
			seed, err := upgradeSeed(entry, arrayTier)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s[%d]: %v", arrayTier, i, err))
				continue
			}
			if prev := s.locate(seed.Value); prev != nil {
				warnings = append(warnings, fmt.Sprintf("%s[%d]: duplicate seed %s", arrayTier, i, seed.Value))
				if seed.Used && !prev.Used {
					prev.Used = true
					prev.Score = seed.Score
				}
				continue
			}
			if seed.Tier == TierPaid {
				s.PaidSeeds = append(s.PaidSeeds, seed)
			} else {
				s.Seeds = append(s.Seeds, seed)
			}
		}
	}
	add(raw.Seeds, TierFree)
	add(raw.PaidSeeds, TierPaid)

	s.TotalScore = s.UsedScore()
	if stored, err := raw.TotalScore.Int64(); err == nil && raw.TotalScore != "" && stored != s.TotalScore {
		warnings = append(warnings, fmt.Sprintf("totalScore %d does not match used seeds %d, recomputed", stored, s.TotalScore))
	}
	return s, warnings, nil
}

func upgradeSeed(entry legacySeed, arrayTier Tier) (Seed, error) {
	value, err := rawSeedValue(entry.Value)
	if err != nil {
		return Seed{}, err
	}
	canonical, err := engine.CanonicalSeed(value)
	if err != nil {
		return Seed{}, err
	}

	var score int64
	if entry.Score != "" {
		score, err = entry.Score.Int64()
		if err != nil {
			f, ferr := strconv.ParseFloat(entry.Score.String(), 64)
			if ferr != nil {
				return Seed{}, fmt.Errorf("score %q: %w", entry.Score, err)
			}
			score = int64(f)
		}
	}

	tier := arrayTier
	switch {
	case entry.Source != "":
		tier = ParseTier(entry.Source)
	case entry.OriginalType != "":
		tier = ParseTier(entry.OriginalType)
	}

	if !entry.Used {
		score = 0
	}
	return Seed{Value: canonical, Used: entry.Used, Score: score, Tier: tier}, nil
}

func rawSeedValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("value: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

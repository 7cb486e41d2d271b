package engine

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/oddsflow/settler/internal/domain"
)

// defaultFastestLapFact is the results fact consulted by fastest-lap markets
// that carry no explicit fact key.
const defaultFastestLapFact = "fastest_lap"

// Resolve maps a market's type plus the event result sheet to the set of
// winning outcome ids and an audit payload. It is a pure function and safe
// to re-run: the caller retries on a later sweep whenever it fails.
//
// Failure modes follow the market's contract with the feed:
//   - domain.ErrResultsUnavailable: the sheet is empty or missing the parts
//     this market type needs; the market stays closed and is retried.
//   - domain.ErrAmbiguousResult: the sheet is malformed (two participants at
//     one position, unparseable boolean fact); never guess a winner.
//   - domain.ErrOutcomeMapping: the sheet names a winner with no matching
//     outcome; resolving with zero winners would silently swallow a data
//     integrity problem.
//   - domain.ErrUnknownMarketType: unsupported type; a configuration error.
//
// A fastest-lap market whose fact matches no outcome resolves with zero
// winners: "no qualifying outcome" is a valid race result.
func Resolve(m domain.Market, outcomes []domain.Outcome, sheet domain.ResultSheet) (domain.Resolution, error) {
	if len(sheet.FinishingOrder) == 0 && len(sheet.Facts) == 0 {
		return domain.Resolution{}, fmt.Errorf("market %s: empty result sheet: %w", m.ID, domain.ErrResultsUnavailable)
	}

	byParticipant := make(map[string]domain.Outcome, len(outcomes))
	byLabel := make(map[string]domain.Outcome, len(outcomes))
	for _, o := range outcomes {
		if o.ParticipantID != "" {
			byParticipant[o.ParticipantID] = o
		}
		byLabel[o.Label] = o
	}

	var winners []string
	var err error

	switch m.Type {
	case domain.MarketTypeWinner:
		winners, err = resolveWinner(m, sheet, byParticipant)
	case domain.MarketTypePodium:
		winners, err = resolvePodium(m, sheet, byParticipant)
	case domain.MarketTypeFastestLap:
		winners, err = resolveFastestLap(m, sheet, byParticipant)
	case domain.MarketTypeBinary:
		winners, err = resolveBinary(m, sheet, byLabel)
	default:
		return domain.Resolution{}, fmt.Errorf("market %s: type %q: %w", m.ID, m.Type, domain.ErrUnknownMarketType)
	}
	if err != nil {
		return domain.Resolution{}, err
	}

	if winners == nil {
		winners = []string{}
	}
	payload, err := json.Marshal(domain.ResolutionPayload{
		MarketType:        m.Type,
		FinishingOrder:    sheet.FinishingOrder,
		Facts:             sheet.Facts,
		WinningOutcomeIDs: winners,
	})
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("market %s: marshal resolution payload: %w", m.ID, err)
	}

	return domain.Resolution{WinningOutcomeIDs: winners, Payload: payload}, nil
}

// resolveWinner picks the single outcome of the participant at position 1.
func resolveWinner(m domain.Market, sheet domain.ResultSheet, byParticipant map[string]domain.Outcome) ([]string, error) {
	participant, err := soleAtPosition(m, sheet, 1)
	if err != nil {
		return nil, err
	}
	if participant == "" {
		return nil, fmt.Errorf("market %s: no participant at position 1: %w", m.ID, domain.ErrResultsUnavailable)
	}

	o, ok := byParticipant[participant]
	if !ok {
		return nil, fmt.Errorf("market %s: participant %q at position 1: %w", m.ID, participant, domain.ErrOutcomeMapping)
	}
	return []string{o.ID}, nil
}

// resolvePodium flags the outcomes of the participants at positions 1-3.
// Every podium finisher pays out independently as a win for its own bettors.
func resolvePodium(m domain.Market, sheet domain.ResultSheet, byParticipant map[string]domain.Outcome) ([]string, error) {
	var winners []string
	for pos := 1; pos <= 3; pos++ {
		participant, err := soleAtPosition(m, sheet, pos)
		if err != nil {
			return nil, err
		}
		if participant == "" {
			// Fewer than three classified finishers is a valid result.
			continue
		}
		o, ok := byParticipant[participant]
		if !ok {
			return nil, fmt.Errorf("market %s: participant %q at position %d: %w", m.ID, participant, pos, domain.ErrOutcomeMapping)
		}
		winners = append(winners, o.ID)
	}
	if len(winners) == 0 {
		return nil, fmt.Errorf("market %s: no classified podium finishers: %w", m.ID, domain.ErrResultsUnavailable)
	}
	return winners, nil
}

// resolveFastestLap flags the outcome of the participant named by the
// fastest-lap fact. A missing or unmatched fact resolves with zero winners.
func resolveFastestLap(m domain.Market, sheet domain.ResultSheet, byParticipant map[string]domain.Outcome) ([]string, error) {
	key := m.FactKey
	if key == "" {
		key = defaultFastestLapFact
	}

	participant, ok := sheet.Fact(key)
	if !ok || participant == "" {
		return nil, nil
	}
	o, ok := byParticipant[participant]
	if !ok {
		return nil, nil
	}
	return []string{o.ID}, nil
}

// resolveBinary maps the market's boolean fact to its Yes or No outcome.
func resolveBinary(m domain.Market, sheet domain.ResultSheet, byLabel map[string]domain.Outcome) ([]string, error) {
	if m.FactKey == "" {
		return nil, fmt.Errorf("market %s: binary market has no fact key: %w", m.ID, domain.ErrUnknownMarketType)
	}

	raw, ok := sheet.Fact(m.FactKey)
	if !ok {
		return nil, fmt.Errorf("market %s: fact %q not reported: %w", m.ID, m.FactKey, domain.ErrResultsUnavailable)
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("market %s: fact %q has non-boolean value %q: %w", m.ID, m.FactKey, raw, domain.ErrAmbiguousResult)
	}

	label := domain.OutcomeLabelNo
	if value {
		label = domain.OutcomeLabelYes
	}
	o, ok := byLabel[label]
	if !ok {
		return nil, fmt.Errorf("market %s: no %q outcome: %w", m.ID, label, domain.ErrOutcomeMapping)
	}
	return []string{o.ID}, nil
}

// soleAtPosition returns the single participant reported at a finishing
// position, "" if none, or ErrAmbiguousResult if the feed reported more
// than one.
func soleAtPosition(m domain.Market, sheet domain.ResultSheet, pos int) (string, error) {
	ids := sheet.AtPosition(pos)
	switch len(ids) {
	case 0:
		return "", nil
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("market %s: %d participants reported at position %d: %w",
			m.ID, len(ids), pos, domain.ErrAmbiguousResult)
	}
}

package syncbus

// BeatLabels names the sixteen sixteenth-notes of a 4/4 bar.
var BeatLabels = [16]string{
	"1", "1e", "1&", "1a",
	"2", "2e", "2&", "2a",
	"3", "3e", "3&", "3a",
	"4", "4e", "4&", "4a",
}

// IsBeatLabel reports whether s is one of BeatLabels.
func IsBeatLabel(s string) bool {
	for _, l := range BeatLabels {
		if s == l {
			return true
		}
	}
	return false
}

// BeatLabel returns the label for a step counter.
func BeatLabel(step uint64) string {
	return BeatLabels[step%16]
}

// TickMessages returns the sync frames for a clock tick: a binary frame on
// every thirty-second note and a beat label on every sixteenth.
func TickMessages(tick uint64, ppq int) []Message {
	sixteenth, thirtySecond := uint64(ppq/4), uint64(ppq/8)
	if tick%thirtySecond != 0 {
		return nil
	}

	msgs := []Message{TickMessage(tick / thirtySecond)}
	if tick%sixteenth == 0 {
		msgs = append(msgs, TextMessage(BeatLabel(tick/sixteenth)))
	}
	return msgs
}

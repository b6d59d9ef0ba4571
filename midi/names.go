package midi

import (
	"regexp"
	"strings"
)

// ALSA port names look like "Client:Port Name 20:0".
var alsaSuffix = regexp.MustCompile(`\s+\d+:\d+$`)

// DisplayName strips host formatting from a raw port name.
//
//	"Midi Through:Midi Through Port-0 14:0" -> "Midi Through Port-0"
//	"USB MIDI:USB MIDI MIDI 1 20:0"          -> "USB MIDI MIDI 1"
//	"IAC Driver Bus 1"                       -> "IAC Driver Bus 1"
func DisplayName(raw string) string {
	name := strings.TrimSpace(alsaSuffix.ReplaceAllString(raw, ""))
	if client, port, ok := strings.Cut(name, ":"); ok && port != "" {
		// Drop the client prefix only when it is repeated in the port name.
		if strings.HasPrefix(strings.ToLower(port), strings.ToLower(client)) {
			name = port
		}
	}
	return name
}

// Key is the lookup key for a device name. Cosmetic formatting never
// affects lookups: raw host names and display names map to the same key.
func Key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(DisplayName(name)), " "))
}

package chat

import (
	"regexp"
	"strings"

	"github.com/suPer8Hu/medchat/internal/ai"
)

// optionsMarker matches the first [OPTIONS: a, b, c] block. There is no
// escaping: a literal "]" inside an option ends the marker.
var optionsMarker = regexp.MustCompile(`\[OPTIONS:([^\]]*)\]`)

// Parsed is a model response split into display text and side-channel data.
type Parsed struct {
	Text       string
	Options    []string
	References []GroundingReference
}

// ParseResponse never fails. Only the first options marker is consumed; any
// later markers stay in the text. Grounding chunks are reduced to place
// references in source order.
func ParseResponse(raw string, chunks []ai.GroundingChunk) Parsed {
	out := Parsed{Text: raw}

	if loc := optionsMarker.FindStringSubmatchIndex(raw); loc != nil {
		for _, item := range strings.Split(raw[loc[2]:loc[3]], ",") {
			if item = strings.TrimSpace(item); item != "" {
				out.Options = append(out.Options, item)
			}
		}
		out.Text = stripSpan(raw, loc[0], loc[1])
	}

	for _, c := range chunks {
		if c.Maps == nil || c.Maps.URI == "" {
			continue
		}
		out.References = append(out.References, GroundingReference{
			Kind:  GroundingPlace,
			URI:   c.Maps.URI,
			Title: c.Maps.Title,
		})
	}
	return out
}

// stripSpan removes raw[start:end] and joins the two sides with at most one
// space, leaving line breaks on either side intact.
func stripSpan(raw string, start, end int) string {
	before := strings.TrimRight(raw[:start], " \t")
	after := strings.TrimLeft(raw[end:], " \t")
	sep := ""
	if before != "" && after != "" &&
		!strings.HasSuffix(before, "\n") && !strings.HasPrefix(after, "\n") {
		sep = " "
	}
	return strings.TrimSpace(before + sep + after)
}

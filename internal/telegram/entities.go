package telegram

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/gotd/td/tg"
)

// span is one markdown wrapper over a range of UTF-16 code units.
type span struct {
	start, end int
	open       string
	close      string
}

// RenderMarkdown rewrites message text so that its formatting entities
// appear as markdown. Entity offsets count UTF-16 code units.
func RenderMarkdown(text string, entities []tg.MessageEntityClass) string {
	if len(entities) == 0 || text == "" {
		return text
	}
	units := utf16.Encode([]rune(text))

	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		if s, ok := toSpan(units, e); ok {
			spans = append(spans, s)
		}
	}
	// Longer spans open first at a shared offset so shorter ones nest inside.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	opens := make(map[int][]string)
	closes := make(map[int][]string)
	for _, s := range spans {
		opens[s.start] = append(opens[s.start], s.open)
		// Prepend so that spans opened later close first.
		closes[s.end] = append([]string{s.close}, closes[s.end]...)
	}
	if len(opens) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 8*len(entities))
	for i := 0; i <= len(units); i++ {
		for _, c := range closes[i] {
			b.WriteString(c)
		}
		for _, o := range opens[i] {
			b.WriteString(o)
		}
		if i == len(units) {
			break
		}
		u := rune(units[i])
		if utf16.IsSurrogate(u) && i+1 < len(units) {
			b.WriteRune(utf16.DecodeRune(u, rune(units[i+1])))
			i++
			continue
		}
		b.WriteRune(u)
	}
	return b.String()
}

func toSpan(units []uint16, entity tg.MessageEntityClass) (span, bool) {
	start := entity.GetOffset()
	end := start + entity.GetLength()
	if start < 0 || start >= len(units) || end <= start {
		return span{}, false
	}
	if end > len(units) {
		end = len(units)
	}
	s := span{start: start, end: end}

	switch e := entity.(type) {
	case *tg.MessageEntityBold, *tg.MessageEntityMention, *tg.MessageEntityMentionName, *tg.MessageEntityHashtag:
		s.open, s.close = "**", "**"
	case *tg.MessageEntityItalic, *tg.MessageEntityUnderline:
		s.open, s.close = "*", "*"
	case *tg.MessageEntityStrike:
		s.open, s.close = "~~", "~~"
	case *tg.MessageEntityCode, *tg.MessageEntityBotCommand:
		s.open, s.close = "`", "`"
	case *tg.MessageEntityPre:
		s.open, s.close = "```"+e.Language+"\n", "\n```"
	case *tg.MessageEntitySpoiler:
		s.open, s.close = "||", "||"
	case *tg.MessageEntityBlockquote:
		s.open = "> "
	case *tg.MessageEntityTextURL:
		s.open, s.close = "[", "]("+e.URL+")"
	case *tg.MessageEntityURL:
		s.open, s.close = "[", "]("+decodeUnits(units[start:end])+")"
	case *tg.MessageEntityEmail:
		s.open, s.close = "[", "](mailto:"+decodeUnits(units[start:end])+")"
	default:
		return span{}, false
	}
	return s, true
}

func decodeUnits(units []uint16) string {
	return string(utf16.Decode(units))
}

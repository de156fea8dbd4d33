package content

import (
	"strings"
)

const (
	reflectionIntro = "Take a moment to reflect."
	actionIntro     = "Here is your action step for today."
	prayerIntro     = "Let's pray."
	closingLine     = "May God bless you and keep you as you go through your day. Amen."
)

// ComposeNarration builds the script read aloud for an item. Sections whose
// source field is blank are left out together with their lead-in.
func ComposeNarration(it Item) string {
	var sections []string
	add := func(parts ...string) {
		sections = append(sections, strings.Join(parts, " "))
	}

	if title := clean(it.Title); title != "" {
		add("Today's devotional: " + withPeriod(title))
	}
	ref, passage := clean(it.ScriptureRef), clean(it.ScripturePassage)
	if ref != "" && passage != "" {
		sections = append(sections, "Today's reading is from "+withPeriod(ref)+"\n\n"+passage)
	}
	if teaching := clean(it.Teaching); teaching != "" {
		sections = append(sections, teaching)
	}
	if q := clean(it.ReflectionQuestion); q != "" {
		add(reflectionIntro, q)
	}
	if a := clean(it.ActionStep); a != "" {
		add(actionIntro, a)
	}
	if p := clean(it.Prayer); p != "" {
		add(prayerIntro, p)
	}
	sections = append(sections, closingLine)

	return strings.Join(sections, "\n\n")
}

// HasNarratableContent reports whether the item has a teaching body.
func HasNarratableContent(it Item) bool {
	return clean(it.Teaching) != ""
}

func clean(s string) string { return strings.TrimSpace(s) }

func withPeriod(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

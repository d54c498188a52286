package inspect

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kilupskalvis/blocklog/internal/models"
)

// Translator assembles the locale text of a report.
type Translator interface {
	Header(page, pages, total int) string
	Line(l Line) string
	NoData() string
}

// English is the default Translator.
type English struct{}

func (English) Header(page, pages, total int) string {
	return fmt.Sprintf("----- Page %d/%d (%s entries) -----", page, pages, humanize.Comma(int64(total)))
}

func (English) Line(l Line) string {
	var b strings.Builder
	if l.RolledBack {
		b.WriteString("[undone] ")
	}
	fmt.Fprintf(&b, "%s %s %s ", l.Ago, l.Actor, verb(l.Action))
	if l.Amount > 0 {
		fmt.Fprintf(&b, "%dx ", l.Amount)
	}
	fmt.Fprintf(&b, "%s at %s %s", strings.TrimPrefix(l.Subject, "minecraft:"), l.World, l.Pos)
	return b.String()
}

func (English) NoData() string {
	return "No data found for the given parameters."
}

func verb(a models.Action) string {
	switch a {
	case models.ActionPlace:
		return "placed"
	case models.ActionBreak:
		return "broke"
	case models.ActionNaturalBreak:
		return "naturally broke"
	case models.ActionBurn:
		return "burned"
	case models.ActionFlow:
		return "flowed into"
	case models.ActionLeavesDecay:
		return "decayed"
	case models.ActionExplosion:
		return "blew up"
	case models.ActionKill:
		return "killed"
	case models.ActionItemAdd:
		return "added"
	case models.ActionItemRemove:
		return "removed"
	case models.ActionContainerClick:
		return "moved"
	case models.ActionWorldEdit:
		return "edited"
	default:
		return a.String()
	}
}

// Render writes the report as lines of text.
func (r *Report) Render(t Translator) []string {
	out := make([]string, 0, len(r.Lines)+1)
	out = append(out, t.Header(r.Page, r.Pages, r.Total))
	for _, l := range r.Lines {
		out = append(out, t.Line(l))
	}
	return out
}

func relativeTime(then, now time.Time) string {
	return humanize.RelTime(then, now, "ago", "from now")
}

package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"justact/internal/evaluator"
	"justact/internal/scenario"
	"justact/internal/scenariolog"
	"justact/internal/session"
)

// Renderer formats values for one output. Colour is used only when the
// output is a terminal.
type Renderer struct {
	w      io.Writer
	styles Styles
}

// New returns a renderer writing to w.
func New(w io.Writer) *Renderer {
	return &Renderer{w: w, styles: NewStyles(lipgloss.NewRenderer(w))}
}

// Print writes s followed by a newline.
func (r *Renderer) Print(s string) error {
	if s == "" {
		return nil
	}
	_, err := fmt.Fprintln(r.w, strings.TrimRight(s, "\n"))
	return err
}

// Outcome summarises the result of one command.
func (r *Renderer) Outcome(out session.Outcome, err error) string {
	if err != nil {
		return r.styles.Error.Render("✗ "+out.Command.String()) + "\n  " + err.Error()
	}
	switch out.Status {
	case scenariolog.StatusApplied:
		return r.styles.Success.Render("✓") + " " + r.styles.Muted.Render("["+out.Seq.String()+"]") + " " + out.Command.String()
	case scenariolog.StatusChecked:
		return r.Verdicts(out.Verdicts)
	case scenariolog.StatusRolledBack:
		msg := "↺ rolled back to seq " + out.Seq.String()
		if out.Branch != nil {
			msg += fmt.Sprintf(", branch %d keeps %d discarded entries", out.Branch.ID, len(out.Branch.Entries))
		}
		return r.styles.Warning.Render(msg)
	case scenariolog.StatusInspected:
		return r.Snapshot(out.Snapshot)
	}
	return string(out.Status) + " " + out.Command.String()
}

// Snapshot renders every entity of a snapshot.
func (r *Renderer) Snapshot(snap *scenario.Snapshot) string {
	if snap == nil {
		return ""
	}
	var b strings.Builder
	digest := snap.Digest()
	if len(digest) > 12 {
		digest = digest[:12]
	}
	b.WriteString(r.styles.Title.Render(fmt.Sprintf("Scenario at seq %s, time %d", snap.Seq(), snap.Time())))
	b.WriteString(" " + r.styles.Muted.Render(digest) + "\n")

	agents := snap.Agents()
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{a.Name, strings.Join(a.Capabilities, ", "), a.DeclaredAt.String()})
	}
	r.section(&b, "Agents", []string{"Name", "Capabilities", "Seq"}, rows)

	statements := snap.Statements()
	rows = make([][]string, 0, len(statements))
	for _, s := range statements {
		status := "active"
		if s.Retracted() {
			status = "retracted at " + s.Retraction.At.String()
			if s.Retraction.By != "" {
				status += " by " + s.Retraction.By
			}
		}
		rows = append(rows, []string{s.Name, s.Author, s.Payload, s.AssertedAt.String(), strconv.FormatInt(s.Time, 10), status})
	}
	r.section(&b, "Statements", []string{"Name", "Author", "Payload", "Seq", "Time", "Status"}, rows)

	agreements := snap.Agreements()
	rows = make([][]string, 0, len(agreements))
	for _, g := range agreements {
		rows = append(rows, []string{g.Name, strings.Join(g.Parties, ", "), strings.Join(g.Statements, ", "), strconv.FormatInt(g.At, 10), g.FormedAt.String()})
	}
	r.section(&b, "Agreements", []string{"Name", "Parties", "Cites", "At", "Seq"}, rows)

	enactments := snap.Enactments()
	rows = make([][]string, 0, len(enactments))
	for _, e := range enactments {
		rows = append(rows, []string{e.Name, e.Actor, e.Agreement, e.Effect, strings.Join(e.Justification, ", "), strconv.FormatInt(e.Time, 10), e.RecordedAt.String()})
	}
	r.section(&b, "Enactments", []string{"Name", "Actor", "Agreement", "Effect", "Because", "Time", "Seq"}, rows)

	active, _ := snap.ActivePolicy()
	policies := snap.Policies()
	rows = make([][]string, 0, len(policies))
	for _, p := range policies {
		mark := ""
		if p.Name == active.Name {
			mark = "*"
		}
		rows = append(rows, []string{p.Name, p.LoadedAt.String(), mark})
	}
	r.section(&b, "Policies", []string{"Name", "Seq", "Active"}, rows)

	return b.String()
}

// Verdicts renders check results, one row per policy.
func (r *Renderer) Verdicts(verdicts []evaluator.Verdict) string {
	rows := make([][]string, 0, len(verdicts))
	for _, v := range verdicts {
		rows = append(rows, []string{v.Policy, v.Seq.String(), r.verdictKind(v.Kind), verdictDetail(v)})
	}
	return r.table([]string{"Policy", "Seq", "Verdict", "Detail"}, rows)
}

func (r *Renderer) verdictKind(k evaluator.Kind) string {
	switch k {
	case evaluator.KindValid:
		return r.styles.Success.Render(string(k))
	case evaluator.KindInvalid:
		return r.styles.Error.Render(string(k))
	}
	return r.styles.Warning.Render(string(k))
}

func verdictDetail(v evaluator.Verdict) string {
	switch v.Kind {
	case evaluator.KindInvalid:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.Witness); err != nil {
			return string(v.Witness)
		}
		return buf.String()
	case evaluator.KindError:
		if v.Err != nil {
			return v.Err.Error()
		}
	}
	return v.Artifact
}

// Transcript renders every issued command with its outcome.
func (r *Renderer) Transcript(records []scenariolog.Record) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			strconv.Itoa(rec.Index),
			rec.Command.String(),
			string(rec.Outcome.Status),
			rec.Outcome.Seq.String(),
			outcomeDetail(rec.Outcome),
		})
	}
	return r.table([]string{"#", "Command", "Status", "Seq", "Detail"}, rows)
}

func outcomeDetail(out scenariolog.Outcome) string {
	switch {
	case out.Error != "":
		return out.Error
	case len(out.Verdicts) > 0:
		parts := make([]string, len(out.Verdicts))
		for i, v := range out.Verdicts {
			parts[i] = v.Policy + "=" + string(v.Kind)
		}
		return strings.Join(parts, ", ")
	case out.Branch != 0:
		return fmt.Sprintf("branch %d", out.Branch)
	}
	return ""
}

// Branches renders the timelines discarded by rollback.
func (r *Renderer) Branches(branches []scenariolog.Branch) string {
	if len(branches) == 0 {
		return r.styles.Muted.Render("no branches")
	}
	rows := make([][]string, 0, len(branches))
	for _, br := range branches {
		cmds := make([]string, len(br.Entries))
		for i, e := range br.Entries {
			cmds[i] = e.Command.String()
		}
		from := "main@" + br.From.String()
		if br.Parent != 0 {
			from = "branch " + strconv.Itoa(br.Parent) + "@" + br.From.String()
		}
		rows = append(rows, []string{strconv.Itoa(br.ID), from, br.Head().String(), strings.Join(cmds, "\n")})
	}
	return r.table([]string{"Branch", "From", "Head", "Commands"}, rows)
}

// Mismatches renders the differences found when verifying a transcript.
func (r *Renderer) Mismatches(mismatches []session.Mismatch) string {
	if len(mismatches) == 0 {
		return r.styles.Success.Render("✓ transcript reproduced exactly")
	}
	rows := make([][]string, 0, len(mismatches))
	for _, m := range mismatches {
		rows = append(rows, []string{strconv.Itoa(m.Index), m.Command.String(), m.Field, m.Want, m.Got})
	}
	return r.styles.Error.Render(fmt.Sprintf("✗ %d mismatches", len(mismatches))) + "\n" +
		r.table([]string{"#", "Command", "Field", "Want", "Got"}, rows)
}

func (r *Renderer) section(b *strings.Builder, title string, headers []string, rows [][]string) {
	b.WriteString("\n" + r.styles.Title.Render(title) + "\n")
	if len(rows) == 0 {
		b.WriteString(r.styles.Muted.Render("  none") + "\n")
		return
	}
	b.WriteString(r.table(headers, rows) + "\n")
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func (r *Renderer) table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.Header
			}
			return r.styles.Cell
		})
	return t.Render()
}

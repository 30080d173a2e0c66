package render

import (
	"fmt"
	"strconv"
	"time"

	"justact/internal/archive"
)

// Sessions renders an archive listing.
func (r *Renderer) Sessions(sessions []archive.Summary) string {
	if len(sessions) == 0 {
		return r.styles.Muted.Render("no archived sessions")
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.Name,
			s.Evaluator,
			s.Head.String(),
			strconv.Itoa(s.Commands),
			s.SavedAt.Local().Format(time.DateTime),
		})
	}
	return r.table([]string{"ID", "Name", "Evaluator", "Head", "Commands", "Saved"}, rows)
}

// ArchivedSession renders an archived session with its transcript and
// branches.
func (r *Renderer) ArchivedSession(s *archive.Session) string {
	title := r.styles.Title.Render(fmt.Sprintf("Session %s %q at seq %s", s.ID, s.Name, s.Head))
	if s.SnapshotID != "" {
		title += " " + r.styles.Muted.Render(shortDigest(s.SnapshotID))
	}
	return title + "\n" + r.Transcript(s.Transcript) + "\n" + r.Branches(s.Branches)
}

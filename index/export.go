package index

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/arii/leaderops/errors"
)

var csvHeader = []string{"branch", "pr_number", "issue_number", "session_id", "active", "created_at", "updated_at"}

// ExportCSV writes every record to w with a stable column set, for
// spreadsheets and ad-hoc tooling.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := s.List(ctx, false)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	for _, rec := range records {
		row := []string{
			rec.Branch,
			formatIntPtr(rec.PRNumber),
			formatIntPtr(rec.IssueNumber),
			formatStrPtr(rec.SessionID),
			strconv.FormatBool(rec.Active),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "write csv row for %s", rec.Branch)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func formatIntPtr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func formatStrPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

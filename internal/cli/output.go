package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"mcq_bot/internal/model"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeReport prints a batch report as a short table or as JSON.
func writeReport(w io.Writer, format string, report *model.BatchReport) error {
	if format == "json" {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Run %s: %d/%d slots succeeded\n", report.RunID, report.SuccessCount(), report.Total)
	for _, slot := range report.Slots {
		if slot.Succeeded() {
			fmt.Fprintf(w, "  slot %d  question %d  ok\n", slot.Index, slot.QuestionID)
			continue
		}
		fmt.Fprintf(w, "  slot %d  question %d  failed at %s: %s\n", slot.Index, slot.QuestionID, slot.Stage, slot.Error)
	}
	if missing := report.Total - len(report.Slots); missing > 0 {
		fmt.Fprintf(w, "  %d slots not run\n", missing)
	}
	return nil
}

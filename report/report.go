package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/doujins-org/embedeval/runner"
)

// summaryRow labels the cross-type averages in CSV output.
const summaryRow = "AVERAGE"

// WriteCSV writes one row per comparison type followed by a summary row.
// Columns: type, target, matches, rows, skipped, tasks, mrr, recall@k..., error.
func WriteCSV(w io.Writer, rep *runner.Report) error {
	if rep == nil {
		return fmt.Errorf("report is required")
	}
	cw := csv.NewWriter(w)

	header := []string{"type", "target", "matches", "rows", "skipped", "tasks", "mrr"}
	for _, k := range rep.Ks {
		header = append(header, fmt.Sprintf("recall@%d", k))
	}
	header = append(header, "error")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, res := range rep.Results {
		row := []string{
			res.Type,
			res.Target,
			strings.Join(res.Matches, "|"),
			strconv.Itoa(res.Rows),
			strconv.Itoa(res.Skipped),
			strconv.Itoa(res.Tasks),
		}
		scored := res.Err == nil && res.Tasks > 0
		row = append(row, formatMetric(res.MRR, scored))
		for _, k := range rep.Ks {
			row = append(row, formatMetric(res.Recall[k], scored))
		}
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		row = append(row, errText)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	// The summary row holds the number of averaged types in the tasks column,
	// then mean MRR and the mean recall at the smallest k.
	sum := make([]string, len(header))
	sum[0] = summaryRow
	sum[5] = strconv.Itoa(rep.Summary.Types)
	sum[6] = formatMetric(rep.Summary.MRRAvg, rep.Summary.Types > 0)
	for i, k := range rep.Ks {
		if k == rep.Summary.RecallK {
			sum[7+i] = formatMetric(rep.Summary.RecallAvg, rep.Summary.Types > 0)
		}
	}
	if err := cw.Write(sum); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the CSV report to path.
func WriteCSVFile(path string, rep *runner.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteCSV(f, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func formatMetric(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

type jsonResult struct {
	Type    string             `json:"type"`
	Target  string             `json:"target"`
	Matches []string           `json:"matches"`
	Rows    int                `json:"rows"`
	Skipped int                `json:"skipped"`
	Tasks   int                `json:"tasks"`
	MRR     *float64           `json:"mrr,omitempty"`
	Recall  map[string]float64 `json:"recall,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type jsonReport struct {
	RunID     string       `json:"run_id"`
	Seed      int64        `json:"seed"`
	PoolSize  int          `json:"pool_size"`
	Ks        []int        `json:"ks"`
	Started   string       `json:"started"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Results   []jsonResult `json:"results"`
	Summary   struct {
		Types     int     `json:"types"`
		MRRAvg    float64 `json:"mrr_avg"`
		RecallK   int     `json:"recall_k"`
		RecallAvg float64 `json:"recall_avg"`
	} `json:"summary"`
}

// WriteJSON writes the report as one indented JSON document.
func WriteJSON(w io.Writer, rep *runner.Report) error {
	if rep == nil {
		return fmt.Errorf("report is required")
	}
	out := jsonReport{
		RunID:     rep.RunID.String(),
		Seed:      rep.Seed,
		PoolSize:  rep.PoolSize,
		Ks:        rep.Ks,
		Started:   rep.Started.UTC().Format("2006-01-02T15:04:05Z07:00"),
		ElapsedMS: rep.Elapsed.Milliseconds(),
	}
	for _, res := range rep.Results {
		jr := jsonResult{
			Type:    res.Type,
			Target:  res.Target,
			Matches: res.Matches,
			Rows:    res.Rows,
			Skipped: res.Skipped,
			Tasks:   res.Tasks,
		}
		if res.Err != nil {
			jr.Error = res.Err.Error()
		} else if res.Tasks > 0 {
			mrr := res.MRR
			jr.MRR = &mrr
			jr.Recall = make(map[string]float64, len(res.Recall))
			for k, v := range res.Recall {
				jr.Recall[strconv.Itoa(k)] = v
			}
		}
		out.Results = append(out.Results, jr)
	}
	out.Summary.Types = rep.Summary.Types
	out.Summary.MRRAvg = rep.Summary.MRRAvg
	out.Summary.RecallK = rep.Summary.RecallK
	out.Summary.RecallAvg = rep.Summary.RecallAvg

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
